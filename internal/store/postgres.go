package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Postgres struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*Postgres)(nil)

func OpenPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*Postgres, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.Configuration("postgres dsn is empty", nil)
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Configuration("parse postgres dsn", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.StoreUnavailable("create postgres pool", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errors.StoreUnavailable("ping postgres", err)
	}

	logger.Info("postgres store opened",
		zap.String("host", pcfg.ConnConfig.Host),
		zap.String("database", pcfg.ConnConfig.Database),
		zap.Int32("max_conns", pcfg.MaxConns))
	return &Postgres{Pool: pool, logger: logger}, nil
}

func (d *Postgres) Close() error {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
	return nil
}

// classify treats connection-level failures (no PgError, SQLSTATE classes
// 08/53/57) as retriable. Everything the server rejected on its merits is
// internal.
func (d *Postgres) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"),
			pgErr.Code == "40001", pgErr.Code == "40P01":
			return errors.StoreUnavailable(op, err)
		}
		return errors.Internal(op, err)
	}
	return errors.StoreUnavailable(op, err)
}

func (d *Postgres) VerifySchema(ctx context.Context) error {
	var missing []string
	for _, t := range requiredTables {
		var exists bool
		if err := d.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, t).Scan(&exists); err != nil {
			return d.classify("verify schema", err)
		}
		if !exists {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return missingSchema(missing)
	}
	return nil
}

// Upsert uses ON CONFLICT on the fingerprint constraint. xmax is zero only
// for a row created by this statement, which separates new from seen-again
// without a second round trip.
func (d *Postgres) Upsert(ctx context.Context, p domain.Posting) (Outcome, error) {
	if err := validatePosting(p); err != nil {
		return 0, err
	}
	seen := observedAt(p)
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	var raw []byte
	if len(p.Raw) > 0 {
		raw = p.Raw
	}

	var inserted bool
	err := d.Pool.QueryRow(ctx, `
INSERT INTO postings (
  fingerprint, source_id, external_id, title, organization, location, description,
  url, work_mode, tags, salary_min, salary_max, posted_at, raw_payload, first_seen_at, last_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
ON CONFLICT (fingerprint) DO UPDATE
  SET last_seen_at = GREATEST(postings.last_seen_at, EXCLUDED.last_seen_at)
RETURNING (xmax = 0)`,
		p.Fingerprint, p.SourceID, nullString(p.ExternalID), p.Title, p.Organization, p.Location, p.Description,
		p.URL, workMode(p.WorkMode), tags, p.SalaryMin, p.SalaryMax, p.PostedAt, raw, seen,
	).Scan(&inserted)
	if err != nil {
		return 0, d.classify("upsert posting", err)
	}
	if inserted {
		return OutcomeNew, nil
	}
	return OutcomeSeenAgain, nil
}

func (d *Postgres) EnsureSource(ctx context.Context, h domain.SourceHealth) error {
	_, err := d.Pool.Exec(ctx, `
INSERT INTO sources (id, kind, cadence_seconds, streaming, state, started_at, updated_at)
VALUES ($1, $2, $3, $4, 'idle', $5, now())
ON CONFLICT (id) DO UPDATE SET
  kind = EXCLUDED.kind,
  cadence_seconds = EXCLUDED.cadence_seconds,
  streaming = EXCLUDED.streaming,
  started_at = EXCLUDED.started_at,
  updated_at = now()`,
		h.ID, h.Kind, int64(h.Cadence/time.Second), h.Streaming, h.StartedAt.UTC(),
	)
	return d.classify("ensure source", err)
}

func (d *Postgres) LoadSource(ctx context.Context, id string) (domain.SourceHealth, error) {
	var (
		h       domain.SourceHealth
		cadence int64
		state   string
		cursor  *string
		lastErr *string
		started *time.Time
	)
	err := d.Pool.QueryRow(ctx, `
SELECT id, kind, cadence_seconds, streaming, state, cursor, started_at,
       last_success_at, last_error, last_error_at, consecutive_failures, next_attempt_at
FROM sources WHERE id = $1`, id).Scan(
		&h.ID, &h.Kind, &cadence, &h.Streaming, &state, &cursor, &started,
		&h.LastSuccess, &lastErr, &h.LastErrorAt, &h.ConsecutiveFailures, &h.NextAttempt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return h, errors.Internal(fmt.Sprintf("source %q not registered", id), err)
	}
	if err != nil {
		return h, d.classify("load source", err)
	}
	h.Cadence = time.Duration(cadence) * time.Second
	h.State = domain.SourceState(state)
	if cursor != nil {
		h.Cursor = *cursor
	}
	if lastErr != nil {
		h.LastError = *lastErr
	}
	if started != nil {
		h.StartedAt = started.UTC()
	}
	return h, nil
}

func (d *Postgres) SaveHealth(ctx context.Context, h domain.SourceHealth) error {
	_, err := d.Pool.Exec(ctx, `
UPDATE sources SET
  state = $2,
  last_success_at = $3,
  last_error = $4,
  last_error_at = $5,
  consecutive_failures = $6,
  next_attempt_at = $7,
  updated_at = now()
WHERE id = $1`,
		h.ID, string(h.State), h.LastSuccess, nullString(h.LastError), h.LastErrorAt,
		h.ConsecutiveFailures, h.NextAttempt,
	)
	return d.classify("save health", err)
}

func (d *Postgres) CompleteRun(ctx context.Context, run domain.IngestionRun, cursor *string) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return d.classify("begin run tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO ingestion_runs (id, source_id, started_at, finished_at, seen_count, new_count, malformed_count, outcome, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
		run.ID, run.SourceID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Seen, run.New, run.Malformed, string(run.Outcome), nullString(run.Error),
	); err != nil {
		return d.classify("insert run", err)
	}

	if cursor != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE sources SET cursor = $2, updated_at = now() WHERE id = $1`,
			run.SourceID, nullString(*cursor),
		); err != nil {
			return d.classify("advance cursor", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return d.classify("commit run", err)
	}
	return nil
}

func (d *Postgres) RecentRuns(ctx context.Context, sourceID string, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := d.Pool.Query(ctx, `
SELECT id::text, source_id, started_at, finished_at, seen_count, new_count, malformed_count, outcome, coalesce(error, '')
FROM ingestion_runs
WHERE ($1 = '' OR source_id = $1)
ORDER BY started_at DESC
LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, d.classify("list runs", err)
	}
	defer rows.Close()

	var out []domain.IngestionRun
	for rows.Next() {
		var (
			r       domain.IngestionRun
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.StartedAt, &r.FinishedAt, &r.Seen, &r.New, &r.Malformed, &outcome, &r.Error); err != nil {
			return nil, d.classify("scan run", err)
		}
		r.Outcome = domain.RunOutcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify("list runs", err)
	}
	return out, nil
}

func (d *Postgres) RecentPostings(ctx context.Context, q PostingQuery) ([]domain.Posting, error) {
	var since *time.Time
	if t, ok := q.since(time.Now()); ok {
		since = &t
	}

	rows, err := d.Pool.Query(ctx, `
SELECT fingerprint, source_id, coalesce(external_id, ''), title, organization, location, description,
       url, work_mode, tags, salary_min, salary_max, posted_at, first_seen_at, last_seen_at
FROM postings
WHERE ($1 = '' OR source_id = $1)
  AND ($2::timestamptz IS NULL OR first_seen_at >= $2)
ORDER BY first_seen_at DESC
LIMIT $3`, q.SourceID, since, q.limit())
	if err != nil {
		return nil, d.classify("list postings", err)
	}
	defer rows.Close()

	var out []domain.Posting
	for rows.Next() {
		var p domain.Posting
		if err := rows.Scan(
			&p.Fingerprint, &p.SourceID, &p.ExternalID, &p.Title, &p.Organization, &p.Location, &p.Description,
			&p.URL, &p.WorkMode, &p.Tags, &p.SalaryMin, &p.SalaryMax, &p.PostedAt, &p.FirstSeen, &p.LastSeen,
		); err != nil {
			return nil, d.classify("scan posting", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify("list postings", err)
	}
	return out, nil
}

func (d *Postgres) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM postings WHERE last_seen_at < $1`, before.UTC())
	if err != nil {
		return 0, d.classify("prune postings", err)
	}
	return tag.RowsAffected(), nil
}
