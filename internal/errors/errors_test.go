package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestTypeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("boom"), ErrTypeInternal},
		{"transient", TransientFetch("dial", stderrors.New("refused")), ErrTypeTransientFetch},
		{"wrapped", fmt.Errorf("cycle: %w", Configuration("no creds", nil)), ErrTypeConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TypeOf(tc.err); got != tc.want {
				t.Fatalf("TypeOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsLooksThroughNestedDomainErrors(t *testing.T) {
	inner := StoreUnavailable("ping", stderrors.New("conn reset"))
	outer := Internal("process batch", inner)

	if !IsStoreUnavailable(outer) {
		t.Fatal("expected nested STORE_UNAVAILABLE to be found")
	}
	if IsConfiguration(outer) {
		t.Fatal("unexpected CONFIGURATION match")
	}
	if TypeOf(outer) != ErrTypeInternal {
		t.Fatalf("TypeOf should report the outermost type, got %q", TypeOf(outer))
	}
}

func TestNewCapturesStack(t *testing.T) {
	err := MalformedPayload("empty text", nil)
	if len(err.StackTrace()) == 0 {
		t.Fatal("expected a stack trace")
	}
	if err.Error() != "MALFORMED_PAYLOAD: empty text" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
