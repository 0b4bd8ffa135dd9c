package tgtext

import (
	"reflect"
	"testing"
	"time"

	"jobfeed-engine/internal/classify"
	"jobfeed-engine/internal/errors"
)

func newParser() Parser {
	return Parser{Classifier: classify.New(nil, nil, nil)}
}

func TestParseJobPost(t *testing.T) {
	date := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	m := Message{
		Channel: "GoJobs",
		ID:      42,
		Date:    date,
		Views:   1200,
		Text: "🔥 New post\nHiring: Senior Go Engineer at Acme Corp.\n" +
			"Location: Berlin, Germany\nSalary: $90k - $120k\nStack: golang, kubernetes",
	}

	p, ok, err := newParser().Parse("tg-go", m)
	if err != nil || !ok {
		t.Fatalf("Parse: ok=%v err=%v", ok, err)
	}
	if p.Title != "Hiring: Senior Go Engineer at Acme Corp." {
		t.Errorf("title = %q", p.Title)
	}
	if p.Organization != "Acme Corp" {
		t.Errorf("organization = %q", p.Organization)
	}
	if p.Location != "Berlin, Germany" {
		t.Errorf("location = %q", p.Location)
	}
	if p.SalaryMin == nil || *p.SalaryMin != 90000 || p.SalaryMax == nil || *p.SalaryMax != 120000 {
		t.Errorf("salary = %v - %v", p.SalaryMin, p.SalaryMax)
	}
	if !reflect.DeepEqual(p.Tags, []string{"backend", "devops"}) {
		t.Errorf("tags = %v", p.Tags)
	}
	if p.ExternalID != "gojobs/42" || p.URL != "https://t.me/GoJobs/42" {
		t.Errorf("external id / url = %q / %q", p.ExternalID, p.URL)
	}
	if p.PostedAt == nil || !p.PostedAt.Equal(date) {
		t.Errorf("posted at = %v", p.PostedAt)
	}
	if len(p.Raw) == 0 {
		t.Error("raw payload missing")
	}
}

func TestParseSkipsNonJobMessages(t *testing.T) {
	_, ok, err := newParser().Parse("tg", Message{Channel: "c", ID: 1, Text: "Conference talk recordings are up"})
	if err != nil || ok {
		t.Fatalf("expected skip, got ok=%v err=%v", ok, err)
	}
}

func TestParseCaptionlessPostIsSkipped(t *testing.T) {
	_, ok, err := newParser().Parse("tg", Message{ChannelID: 7, ID: 3, Text: "   "})
	if ok || err != nil {
		t.Fatalf("expected skip, got ok=%v err=%v", ok, err)
	}
}

func TestParseMissingIDIsMalformed(t *testing.T) {
	_, ok, err := newParser().Parse("tg", Message{ChannelID: 7, Text: "Hiring a Go developer"})
	if ok || !errors.IsMalformedPayload(err) {
		t.Fatalf("expected malformed payload, got ok=%v err=%v", ok, err)
	}
}

func TestExtractCompanyIgnoresSentencePeriod(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Backend engineer at Acme Corp.", "Acme Corp"},
		{"Backend engineer at Acme Corp. Apply now", "Acme Corp"},
		{"Backend engineer at Acme Corp, Berlin", "Acme Corp"},
		{"Company: Initech Inc.\nRemote", "Initech Inc"},
		{"Hiring at Globex.", "Globex"},
	}
	for _, tc := range cases {
		if got := extractCompany(tc.text); got != tc.want {
			t.Errorf("extractCompany(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestExternalIDPrefersChannelID(t *testing.T) {
	p, ok, err := newParser().Parse("tg", Message{Channel: "renamed", ChannelID: 1001, ID: 9, Text: "Remote job: QA engineer"})
	if err != nil || !ok {
		t.Fatalf("Parse: %v %v", ok, err)
	}
	if p.ExternalID != "1001/9" {
		t.Fatalf("external id = %q", p.ExternalID)
	}
	if p.WorkMode != "remote" {
		t.Fatalf("work mode = %q", p.WorkMode)
	}
}

func TestExtractSalarySingleAmount(t *testing.T) {
	min, max := extractSalary("Pay: 5,000 USD per month")
	if min == nil || *min != 5000 || max != nil {
		t.Fatalf("salary = %v %v", min, max)
	}
}
