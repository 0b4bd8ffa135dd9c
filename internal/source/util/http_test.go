package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobfeed-engine/internal/errors"
)

func TestGetMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, errors.IsConfiguration},
		{http.StatusForbidden, errors.IsConfiguration},
		{http.StatusTooManyRequests, errors.IsTransientFetch},
		{http.StatusBadGateway, errors.IsTransientFetch},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := Get(context.Background(), srv.Client(), nil, srv.URL, "")
		srv.Close()
		if !tc.check(err) {
			t.Errorf("status %d: unexpected error %v", tc.status, err)
		}
	}
}

func TestGetSetsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	res, err := Get(context.Background(), srv.Client(), NewHostLimiter(0, 0), srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if ua != DefaultUserAgent {
		t.Fatalf("user agent = %q", ua)
	}
}

func TestGetUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Get(context.Background(), http.DefaultClient, nil, url, "")
	if !errors.IsTransientFetch(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
