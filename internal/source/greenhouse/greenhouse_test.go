package greenhouse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobfeed-engine/internal/errors"

	"go.uber.org/zap/zaptest"
)

func TestFetchBoard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/boards/acme/jobs" || r.URL.Query().Get("content") != "true" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"jobs":[
			{"id":4001,"title":"Data Engineer","absolute_url":"https://boards.greenhouse.io/acme/jobs/4001",
			 "updated_at":"2026-03-01T09:00:00-05:00","location":{"name":"Remote - US"},
			 "content":"&lt;p&gt;Pipelines &amp;amp; Go&lt;/p&gt;","departments":[{"name":"Data"}]},
			{"id":0,"title":"Designer","absolute_url":"https://boards.greenhouse.io/acme/jobs/4002?gh_src=abc"},
			{"id":4003,"title":"   "}
		],"meta":{"total":3}}`)
	}))
	defer srv.Close()

	a, err := New("gh-acme", Config{Token: "acme", Organization: "Acme", BaseURL: srv.URL}, srv.Client(), nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Items) != 3 {
		t.Fatalf("items = %d", len(b.Items))
	}

	p := b.Items[0].Posting
	if p.ExternalID != "greenhouse:acme:4001" || p.WorkMode != "remote" || p.Description != "Pipelines & Go" {
		t.Fatalf("unexpected posting %+v", p)
	}
	if p.PostedAt == nil || p.PostedAt.Hour() != 14 {
		t.Fatalf("posted at = %v", p.PostedAt)
	}

	d := b.Items[1].Posting
	if d.ExternalID != "greenhouse:acme:4002" || d.URL != "https://boards.greenhouse.io/acme/jobs/4002" {
		t.Fatalf("id from url: %+v", d)
	}
	if !errors.IsMalformedPayload(b.Items[2].Err) {
		t.Fatalf("blank title should be malformed: %+v", b.Items[2])
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, _ := New("gh", Config{Token: "acme", BaseURL: srv.URL}, srv.Client(), nil, zaptest.NewLogger(t))
	if _, err := a.Fetch(context.Background(), ""); !errors.IsTransientFetch(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestExtractJobID(t *testing.T) {
	if id := extractJobID("https://boards.greenhouse.io/acme/jobs/123?x=1"); id != "123" {
		t.Fatalf("id = %q", id)
	}
	if id := extractJobID("https://boards.greenhouse.io/acme"); id != "" {
		t.Fatalf("id = %q", id)
	}
}
