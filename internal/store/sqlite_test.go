package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"), logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := Migrate(ctx, db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.EnsureSource(ctx, domain.SourceHealth{ID: "src", Kind: "test", Cadence: time.Minute, StartedAt: time.Now()}); err != nil {
		t.Fatalf("ensure source: %v", err)
	}
	return db
}

func testPosting(fp string, seen time.Time) domain.Posting {
	return domain.Posting{
		SourceID:     "src",
		ExternalID:   "ext-" + fp,
		Title:        "Go Engineer",
		Organization: "Acme",
		Description:  "first description",
		Fingerprint:  fp,
		Tags:         []string{"backend"},
		LastSeen:     seen,
	}
}

func countPostings(t *testing.T, db *SQLite, fp string) int {
	t.Helper()
	var n int
	if err := db.Pool.QueryRow(`SELECT count(*) FROM postings WHERE fingerprint = ?`, fp).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestVerifySchemaFailsOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "empty.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	err = db.VerifySchema(ctx)
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	var n int
	if err := db.Pool.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("VerifySchema must not create tables, found %d", n)
	}
}

func TestVerifySchemaAfterMigrate(t *testing.T) {
	db := newTestSQLite(t)
	if err := db.VerifySchema(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	applied, err := Migrate(context.Background(), db, zaptest.NewLogger(t))
	if err != nil || applied != 0 {
		t.Fatalf("second migrate should be a no-op, applied=%d err=%v", applied, err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	out, err := db.Upsert(ctx, testPosting("fp1", t0))
	if err != nil || out != OutcomeNew {
		t.Fatalf("first upsert: %v %v", out, err)
	}

	second := testPosting("fp1", t0.Add(time.Hour))
	second.Title = "Changed title"
	second.Description = "changed description"
	out, err = db.Upsert(ctx, second)
	if err != nil || out != OutcomeSeenAgain {
		t.Fatalf("second upsert: %v %v", out, err)
	}

	if n := countPostings(t, db, "fp1"); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	got, err := db.RecentPostings(ctx, PostingQuery{Window: "all"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("postings = %d", len(got))
	}
	p := got[0]
	if p.Title != "Go Engineer" || p.Description != "first description" {
		t.Fatalf("stored text was overwritten: %q / %q", p.Title, p.Description)
	}
	if !p.FirstSeen.Equal(t0) || !p.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Fatalf("first/last seen = %v / %v", p.FirstSeen, p.LastSeen)
	}
}

func TestUpsertNeverMovesLastSeenBackwards(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	if _, err := db.Upsert(ctx, testPosting("fp", t0.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Upsert(ctx, testPosting("fp", t0)); err != nil {
		t.Fatal(err)
	}
	got, _ := db.RecentPostings(ctx, PostingQuery{Window: "all"})
	if !got[0].LastSeen.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last seen moved backwards to %v", got[0].LastSeen)
	}
}

func TestConcurrentUpsertsYieldOneNew(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	const n = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[Outcome]int{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			out, err := db.Upsert(ctx, testPosting("shared", time.Now().Add(time.Duration(i)*time.Millisecond)))
			if err != nil {
				t.Errorf("upsert %d: %v", i, err)
				return
			}
			mu.Lock()
			results[out]++
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	if results[OutcomeNew] != 1 || results[OutcomeSeenAgain] != n-1 {
		t.Fatalf("outcomes = %v, want 1 new and %d seen-again", results, n-1)
	}
	if c := countPostings(t, db, "shared"); c != 1 {
		t.Fatalf("rows = %d, want 1", c)
	}
}

func TestCompleteRunIsIdempotentAndAdvancesCursor(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := domain.IngestionRun{
		ID:         uuid.NewString(),
		SourceID:   "src",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Seen:       5,
		New:        4,
		Malformed:  1,
		Outcome:    domain.RunPartial,
	}
	cursor := "msg:42"
	if err := db.CompleteRun(ctx, run, &cursor); err != nil {
		t.Fatalf("complete run: %v", err)
	}
	if err := db.CompleteRun(ctx, run, &cursor); err != nil {
		t.Fatalf("repeat complete run: %v", err)
	}

	runs, err := db.RecentRuns(ctx, "src", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Outcome != domain.RunPartial || runs[0].Malformed != 1 {
		t.Fatalf("unexpected run %+v", runs[0])
	}

	h, err := db.LoadSource(ctx, "src")
	if err != nil {
		t.Fatal(err)
	}
	if h.Cursor != "msg:42" {
		t.Fatalf("cursor = %q", h.Cursor)
	}
}

func TestSaveHealthRoundTrip(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	ok := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	in := domain.SourceHealth{
		ID:                  "src",
		State:               domain.StateBackoff,
		LastSuccess:         &ok,
		LastError:           string(errors.ErrTypeTransientFetch),
		LastErrorAt:         &ok,
		ConsecutiveFailures: 2,
	}
	if err := db.SaveHealth(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadSource(ctx, "src")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateBackoff || got.ConsecutiveFailures != 2 || got.LastError != "TRANSIENT_FETCH" {
		t.Fatalf("unexpected health %+v", got)
	}
	if got.LastSuccess == nil || !got.LastSuccess.Equal(ok) {
		t.Fatalf("last success = %v", got.LastSuccess)
	}
	if got.Cadence != time.Minute || got.Kind != "test" {
		t.Fatalf("registration lost: %+v", got)
	}
}

func TestPrune(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	if _, err := db.Upsert(ctx, testPosting("old", old)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Upsert(ctx, testPosting("fresh", time.Now())); err != nil {
		t.Fatal(err)
	}
	n, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	if countPostings(t, db, "fresh") != 1 {
		t.Fatal("fresh posting pruned")
	}
}

func TestUpsertRejectsMissingFingerprint(t *testing.T) {
	db := newTestSQLite(t)
	_, err := db.Upsert(context.Background(), domain.Posting{SourceID: "src", Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}
