package workday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobfeed-engine/internal/errors"

	"go.uber.org/zap/zaptest"
)

func newBoard(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	var bootstraps int
	mux := http.NewServeMux()
	mux.HandleFunc("/en-US/External", func(w http.ResponseWriter, r *http.Request) {
		bootstraps++
		http.SetCookie(w, &http.Cookie{Name: "CALYPSO_CSRF_TOKEN", Value: "tok", Path: "/"})
		fmt.Fprint(w, "<html>careers</html>")
	})
	mux.HandleFunc("/wday/cxs/127/External/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("x-calypso-csrf-token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Offset {
		case 0:
			fmt.Fprint(w, `{"total":3,"jobPostings":[
				{"title":"Platform Engineer","externalPath":"/job/Berlin/Platform-Engineer_R100","locationsText":"Berlin, Germany","postedOnDate":"2026-02-03","bulletFields":["R100"]},
				{"externalPath":"/job/x"}
			]}`)
		default:
			fmt.Fprint(w, `{"total":3,"jobPostings":[
				{"title":"Data Engineer","externalUrl":"https://acme.example/jobs/7","location":"Remote","jobRequisitionId":"R7"}
			]}`)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &bootstraps
}

func TestFetchBootstrapsSessionAndPages(t *testing.T) {
	srv, bootstraps := newBoard(t)
	a, err := New("wd-acme", Config{BoardURL: srv.URL + "/en-US/External", Organization: "Acme", PageSize: 2}, 5*time.Second, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	batch, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if *bootstraps != 1 {
		t.Fatalf("bootstraps = %d", *bootstraps)
	}
	if len(batch.Items) != 3 {
		t.Fatalf("items = %d", len(batch.Items))
	}
	if !errors.IsMalformedPayload(batch.Items[1].Err) {
		t.Fatalf("untitled posting should be malformed: %v", batch.Items[1].Err)
	}

	p := batch.Items[0].Posting
	if p.ExternalID != "workday:127:External:R100" {
		t.Fatalf("external id = %q", p.ExternalID)
	}
	if p.URL != srv.URL+"/en-US/External/job/Berlin/Platform-Engineer_R100" {
		t.Fatalf("url = %q", p.URL)
	}
	if p.PostedAt == nil || p.Location != "Berlin, Germany" {
		t.Fatalf("posting = %+v", p)
	}
	if r := batch.Items[2].Posting; r.WorkMode != "remote" || r.URL != "https://acme.example/jobs/7" {
		t.Fatalf("remote posting = %+v", r)
	}

	// the session is reused on the next poll
	if _, err := a.Fetch(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if *bootstraps != 1 {
		t.Fatalf("bootstrapped again: %d", *bootstraps)
	}
}

func TestBotChallengeIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "Checking your browser - Cloudflare")
	}))
	defer srv.Close()

	a, _ := New("wd", Config{BoardURL: srv.URL + "/External"}, time.Second, nil, zaptest.NewLogger(t))
	if _, err := a.Fetch(context.Background(), ""); !errors.IsTransientFetch(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestParseBoardURL(t *testing.T) {
	b, err := parseBoardURL("https://acme.wd5.myworkdayjobs.com/en-us/Careers")
	if err != nil {
		t.Fatal(err)
	}
	if b.Tenant != "acme" || b.Site != "Careers" || b.Locale != "en-US" {
		t.Fatalf("board = %+v", b)
	}
	if got := b.jobsEndpoint(); got != "https://acme.wd5.myworkdayjobs.com/wday/cxs/acme/Careers/jobs?locale=en-US" {
		t.Fatalf("endpoint = %q", got)
	}
	for _, bad := range []string{"", "https://localhost/x", "https://a.b.c/"} {
		if _, err := parseBoardURL(bad); err == nil {
			t.Errorf("parseBoardURL(%q) should fail", bad)
		}
	}
}

func TestNewRejectsBadBoard(t *testing.T) {
	if _, err := New("wd", Config{BoardURL: "nope"}, 0, nil, zaptest.NewLogger(t)); !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParsePostedAt(t *testing.T) {
	cases := map[string]bool{
		"2026-02-03T10:00:00Z": true,
		"2026-02-03":           true,
		"1767225600":           true,
		"1767225600000":        true,
		"Posted 3 Days Ago":    false,
	}
	for in, ok := range cases {
		if got := parsePostedAt(in); (got != nil) != ok {
			t.Errorf("parsePostedAt(%q) = %v", in, got)
		}
	}
}
