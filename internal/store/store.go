package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"

	"go.uber.org/zap"
)

// Outcome is the result of an Upsert.
type Outcome int

const (
	OutcomeNew Outcome = iota + 1
	OutcomeSeenAgain
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeSeenAgain:
		return "seen-again"
	default:
		return "unknown"
	}
}

// Store is the only path to the relational store. Every implementation
// resolves duplicate postings with the database's unique constraint on
// fingerprint rather than with application locks, so several engine
// processes may share one database.
type Store interface {
	// Upsert inserts p if its fingerprint is unknown and reports OutcomeNew.
	// Otherwise only last_seen moves forward and OutcomeSeenAgain is
	// returned; title and description are never rewritten.
	Upsert(ctx context.Context, p domain.Posting) (Outcome, error)

	// VerifySchema fails when the provisioned tables are missing. The
	// engine never creates them.
	VerifySchema(ctx context.Context) error

	// EnsureSource registers a configured source, keeping health and
	// cursor of an existing row.
	EnsureSource(ctx context.Context, h domain.SourceHealth) error
	LoadSource(ctx context.Context, id string) (domain.SourceHealth, error)
	SaveHealth(ctx context.Context, h domain.SourceHealth) error

	// CompleteRun records run and, when cursor is non-nil, advances the
	// source cursor in the same transaction. Recording the same run id
	// twice is a no-op.
	CompleteRun(ctx context.Context, run domain.IngestionRun, cursor *string) error

	RecentRuns(ctx context.Context, sourceID string, limit int) ([]domain.IngestionRun, error)
	RecentPostings(ctx context.Context, q PostingQuery) ([]domain.Posting, error)

	// Prune deletes postings not seen since before.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

type PostingQuery struct {
	SourceID string
	Window   string // 24h | 7d | 30d | all
	Limit    int
}

func (q PostingQuery) since(now time.Time) (time.Time, bool) {
	switch q.Window {
	case "24h":
		return now.Add(-24 * time.Hour), true
	case "30d":
		return now.AddDate(0, 0, -30), true
	case "all":
		return time.Time{}, false
	default:
		return now.AddDate(0, 0, -7), true
	}
}

func (q PostingQuery) limit() int {
	if q.Limit <= 0 || q.Limit > 2000 {
		return 200
	}
	return q.Limit
}

type Config struct {
	Driver   string // sqlite | postgres
	DSN      string
	MaxConns int
}

var requiredTables = []string{"postings", "sources", "ingestion_runs"}

// Open connects to the configured database. It does not touch the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DSN, logger)
	case "postgres", "postgresql", "pgx":
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, errors.Configuration(fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}
}

func validatePosting(p domain.Posting) error {
	if strings.TrimSpace(p.Fingerprint) == "" {
		return errors.Internal("posting has no fingerprint", nil)
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return errors.Internal("posting has no source id", nil)
	}
	return nil
}

func missingSchema(missing []string) error {
	return errors.Configuration(
		fmt.Sprintf("schema not provisioned: missing tables %s (run cmd/migrate)", strings.Join(missing, ", ")),
		nil,
	)
}

func observedAt(p domain.Posting) time.Time {
	if p.LastSeen.IsZero() {
		return time.Now().UTC()
	}
	return p.LastSeen.UTC()
}
