package util

import (
	"context"
	"testing"
	"time"
)

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	got := CleanText("  Senior Go \n\t Engineer  ")
	if got != "Senior Go Engineer" {
		t.Fatalf("CleanText = %q", got)
	}
}

func TestNormalizeLocationDedupes(t *testing.T) {
	got := NormalizeLocation("Location: Berlin, berlin ,  Germany")
	if got != "Berlin, Germany" {
		t.Fatalf("NormalizeLocation = %q", got)
	}
}

func TestInferWorkMode(t *testing.T) {
	cases := map[string]string{
		"Fully remote team": WorkModeRemote,
		"Hybrid, 2 days":    WorkModeHybrid,
		"On-site in Austin": WorkModeOnsite,
		"Austin, TX":        WorkModeUnknown,
	}
	for in, want := range cases {
		if got := InferWorkMode(in, "", ""); got != want {
			t.Errorf("InferWorkMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<div><p>Build <b>APIs</b></p><script>x()</script><ul><li>Go</li><li>SQL</li></ul></div>")
	if got != "Build APIs Go SQL" {
		t.Fatalf("HTMLToText = %q", got)
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	got := Clip("héllo", 2)
	if got != "h" {
		t.Fatalf("Clip = %q", got)
	}
}

func TestCanonicalizeURLStripsTracking(t *testing.T) {
	got := CanonicalizeURL("HTTPS://Jobs.Lever.co/acme/123?utm_source=x&b=2&a=1#apply")
	if got != "https://jobs.lever.co/acme/123?a=1&b=2" {
		t.Fatalf("CanonicalizeURL = %q", got)
	}
}

func TestExtractLabeledLocation(t *testing.T) {
	got := ExtractLabeledLocation("We are hiring!\nLocation: Lisbon, Portugal\nSalary: 50k")
	if got != "Lisbon, Portugal" {
		t.Fatalf("ExtractLabeledLocation = %q", got)
	}
}

func TestHostLimiterNilAndUnlimited(t *testing.T) {
	var nilLimiter *HostLimiter
	if err := nilLimiter.WaitURL(context.Background(), "https://t.me/s/x"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}

	hl := NewHostLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		if err := hl.WaitURL(ctx, "https://api.lever.co/v0/postings/acme"); err != nil {
			t.Fatalf("unlimited limiter blocked: %v", err)
		}
	}
}
