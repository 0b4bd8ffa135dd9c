package telegram

import (
	"context"
	"testing"
	"time"

	"jobfeed-engine/internal/classify"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source/tgtext"

	"go.uber.org/zap/zaptest"
)

func newTestAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.AppID == 0 {
		cfg.AppID = 1
		cfg.AppHash = "hash"
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = t.TempDir() + "/session.json"
	}
	a, err := New("tg-test", cfg, tgtext.Parser{Classifier: classify.New(nil, nil, nil)}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("tg", Config{SessionPath: "x"}, tgtext.Parser{}, zaptest.NewLogger(t))
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = New("tg", Config{AppID: 1, AppHash: "h"}, tgtext.Parser{}, zaptest.NewLogger(t))
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error for missing session path, got %v", err)
	}
}

func TestFetchDrainsQueuedMessages(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: time.Second, BatchSize: 2})
	a.setState(true, nil)

	ctx := context.Background()
	a.enqueue(ctx, tgtext.Message{Channel: "jobs", ID: 1, Text: "Hiring a Go developer"})
	a.enqueue(ctx, tgtext.Message{Channel: "jobs", ID: 2, Text: ""})
	a.enqueue(ctx, tgtext.Message{Channel: "jobs", ID: 3, Text: "Vacancy: SRE"})

	b, err := a.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Items) != 1 || b.Items[0].Posting.ExternalID != "jobs/1" {
		t.Fatalf("items = %+v, want jobs/1 only (captionless post skipped)", b.Items)
	}
	if b.Cursor != "jobs:2" {
		t.Fatalf("cursor = %q, want jobs:2", b.Cursor)
	}

	b, err = a.Fetch(ctx, b.Cursor)
	if err != nil || len(b.Items) != 1 || b.Items[0].Posting.ExternalID != "jobs/3" {
		t.Fatalf("second fetch: %+v, err %v", b.Items, err)
	}
	if b.Cursor != "jobs:3" {
		t.Fatalf("cursor = %q, want jobs:3", b.Cursor)
	}
}

func TestFetchRedeliversUncommittedBatch(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: 20 * time.Millisecond})
	a.setState(true, nil)

	ctx := context.Background()
	a.enqueue(ctx, tgtext.Message{Channel: "jobs", ID: 7, Text: "Hiring a Go developer"})

	first, err := a.Fetch(ctx, "")
	if err != nil || len(first.Items) != 1 {
		t.Fatalf("Fetch: %+v, err %v", first.Items, err)
	}

	// The run failed, so the cursor handed back is the old one.
	again, err := a.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(again.Items) != 1 || again.Items[0].Posting.ExternalID != "jobs/7" {
		t.Fatalf("message jobs/7 not offered again: %+v", again.Items)
	}

	// Once committed it is acknowledged and not offered a third time.
	done, err := a.Fetch(ctx, again.Cursor)
	if err != nil || len(done.Items) != 0 {
		t.Fatalf("committed message redelivered: %+v, err %v", done.Items, err)
	}
	if done.Cursor != again.Cursor {
		t.Fatalf("heartbeat cursor = %q, want %q", done.Cursor, again.Cursor)
	}
}

func TestFetchDropsMessagesBelowCursor(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: 20 * time.Millisecond})
	a.setState(true, nil)

	ctx := context.Background()
	a.enqueue(ctx, tgtext.Message{ChannelID: 1001, ID: 4, Text: "Hiring a Go developer"})
	a.enqueue(ctx, tgtext.Message{ChannelID: 1001, ID: 4, Text: "Hiring a Go developer"})
	a.enqueue(ctx, tgtext.Message{ChannelID: 1001, ID: 5, Text: "Vacancy: SRE"})

	b, err := a.Fetch(ctx, "1001:4")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Items) != 1 || b.Items[0].Posting.ExternalID != "1001/5" {
		t.Fatalf("items = %+v", b.Items)
	}
}

type fakeHistory struct {
	msgs  map[string][]tgtext.Message
	err   map[string]error
	calls []string
}

func (h *fakeHistory) History(_ context.Context, channel string, seen Cursor, _ int) ([]tgtext.Message, error) {
	h.calls = append(h.calls, channel)
	if err := h.err[channel]; err != nil {
		return nil, err
	}
	var out []tgtext.Message
	for _, m := range h.msgs[channel] {
		if !seen.Covers(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestFetchBackfillsHistoryAfterConnect(t *testing.T) {
	a := newTestAdapter(t, Config{Channels: []string{"@gojobs"}, Heartbeat: time.Second})
	h := &fakeHistory{msgs: map[string][]tgtext.Message{
		// history is returned newest first
		"gojobs": {
			{Channel: "gojobs", ChannelID: 1001, ID: 12, Text: "Vacancy: SRE"},
			{Channel: "gojobs", ChannelID: 1001, ID: 11, Text: "Hiring a Go developer"},
			{Channel: "gojobs", ChannelID: 1001, ID: 10, Text: "Hiring: already stored"},
		},
	}}
	a.connect(true, h, nil)

	ctx := context.Background()
	b, err := a.Fetch(ctx, "1001:10")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Items) != 2 || b.Items[0].Posting.ExternalID != "1001/11" || b.Items[1].Posting.ExternalID != "1001/12" {
		t.Fatalf("items = %+v", b.Items)
	}
	if b.Cursor != "1001:12" {
		t.Fatalf("cursor = %q", b.Cursor)
	}

	// A live update for a backfilled message is not offered twice.
	a.enqueue(ctx, tgtext.Message{Channel: "gojobs", ChannelID: 1001, ID: 12, Text: "Vacancy: SRE"})
	a.enqueue(ctx, tgtext.Message{Channel: "gojobs", ChannelID: 1001, ID: 13, Text: "Job: data engineer"})
	b, err = a.Fetch(ctx, b.Cursor)
	if err != nil || len(b.Items) != 1 || b.Items[0].Posting.ExternalID != "1001/13" {
		t.Fatalf("after backfill: %+v, err %v", b.Items, err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("history read %d times on one connection", len(h.calls))
	}

	a.connect(true, h, nil)
	if _, err := a.Fetch(ctx, b.Cursor); err != nil {
		t.Fatalf("Fetch after reconnect: %v", err)
	}
	if len(h.calls) != 2 {
		t.Fatalf("reconnect should backfill again, calls = %v", h.calls)
	}
}

func TestFetchBackfillFailureIsRetried(t *testing.T) {
	a := newTestAdapter(t, Config{Channels: []string{"gojobs", "1001"}, Heartbeat: 20 * time.Millisecond})
	h := &fakeHistory{err: map[string]error{"gojobs": context.DeadlineExceeded}}
	a.connect(true, h, nil)

	_, err := a.Fetch(context.Background(), "")
	if !errors.IsTransientFetch(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	h.err = nil
	if _, err := a.Fetch(context.Background(), ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// numeric ids have no history peer and are never backfilled
	if len(h.calls) != 2 || h.calls[0] != "gojobs" || h.calls[1] != "gojobs" {
		t.Fatalf("calls = %v", h.calls)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := ParseCursor("jobs:3, 1001:12,bad,x:0,jobs:2")
	if c.String() != "1001:12,jobs:3" {
		t.Fatalf("cursor = %q", c.String())
	}
	if !c.Covers(tgtext.Message{ChannelID: 1001, ID: 12}) || c.Covers(tgtext.Message{Channel: "Jobs", ID: 4}) {
		t.Fatalf("Covers wrong for %v", c)
	}
	if len(ParseCursor("")) != 0 {
		t.Fatal("empty cursor should parse to nothing")
	}
}

func TestFetchHeartbeatReturnsEmptyBatch(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: 20 * time.Millisecond})
	a.setState(true, nil)

	b, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Items) != 0 {
		t.Fatalf("expected empty heartbeat batch, got %d", len(b.Items))
	}
}

func TestFetchReportsSessionError(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: time.Second})
	a.setState(false, errors.Configuration("telegram session is not authorized", nil))

	_, err := a.Fetch(context.Background(), "")
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFetchNotConnectedIsTransient(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: 20 * time.Millisecond})

	_, err := a.Fetch(context.Background(), "")
	if !errors.IsTransientFetch(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchWakesOnConnect(t *testing.T) {
	a := newTestAdapter(t, Config{Heartbeat: time.Second})
	go func() {
		time.Sleep(10 * time.Millisecond)
		a.setState(true, nil)
		a.enqueue(context.Background(), tgtext.Message{ChannelID: 5, ID: 8, Text: "Job: data engineer"})
	}()

	b, err := a.Fetch(context.Background(), "")
	if err != nil || len(b.Items) != 1 {
		t.Fatalf("Fetch: %d items, err %v", len(b.Items), err)
	}
}

func TestWantedChannels(t *testing.T) {
	a := newTestAdapter(t, Config{Channels: []string{"@GoJobs", "1001"}})
	if !a.wanted(1, "gojobs") || !a.wanted(1001, "") {
		t.Fatal("configured channels should be accepted")
	}
	if a.wanted(2, "other") {
		t.Fatal("unconfigured channel accepted")
	}
}
