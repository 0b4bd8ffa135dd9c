package secrets

import (
	"testing"

	"jobfeed-engine/internal/errors"

	"github.com/zalando/go-keyring"
)

func TestLookupPrefersKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv("JOBFEED_TEST_SECRET", "from-env")

	acct := IMAPAccount("me", "imap.example.com")
	if err := Set(acct, "from-keyring"); err != nil {
		t.Fatal(err)
	}
	got, err := Lookup(acct, "JOBFEED_TEST_SECRET")
	if err != nil || got != "from-keyring" {
		t.Fatalf("Lookup = %q, %v", got, err)
	}

	if err := Delete(acct); err != nil {
		t.Fatal(err)
	}
	got, err = Lookup(acct, "JOBFEED_TEST_SECRET")
	if err != nil || got != "from-env" {
		t.Fatalf("Lookup after delete = %q, %v", got, err)
	}
}

func TestLookupMissingIsConfiguration(t *testing.T) {
	keyring.MockInit()
	_, err := Lookup("nobody", "JOBFEED_TEST_UNSET_SECRET")
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSetRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := Set("", "x"); err == nil {
		t.Fatal("expected error for empty account")
	}
	if err := Set("acct", " "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
