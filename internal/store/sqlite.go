package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// tsLayout is fixed width so TEXT timestamps order lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type SQLite struct {
	Pool   *sql.DB
	logger *zap.Logger
}

func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Configuration("sqlite path is empty", nil)
	}
	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Configuration("open sqlite", err)
	}

	pool.SetMaxOpenConns(1) // sqlite wants a single writer
	pool.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.PingContext(pctx); err != nil {
		_ = pool.Close()
		return nil, errors.StoreUnavailable("ping sqlite", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return &SQLite{Pool: pool, logger: logger}, nil
}

func (d *SQLite) Close() error {
	if d == nil || d.Pool == nil {
		return nil
	}
	return d.Pool.Close()
}

func (d *SQLite) VerifySchema(ctx context.Context) error {
	rows, err := d.Pool.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table';`)
	if err != nil {
		return d.classify("verify schema", err)
	}
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return d.classify("verify schema", err)
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return d.classify("verify schema", err)
	}

	var missing []string
	for _, t := range requiredTables {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return missingSchema(missing)
	}
	return nil
}

// classify maps driver errors onto the store taxonomy. Busy/locked databases,
// closed pools and deadlines are retriable; anything else is internal.
func (d *SQLite) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if stderrors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
			return errors.StoreUnavailable(op, err)
		}
		return errors.Internal(op, err)
	}
	if stderrors.Is(err, sql.ErrConnDone) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "database is closed") {
		return errors.StoreUnavailable(op, err)
	}
	return errors.Internal(op, err)
}

func fmtTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func fmtTSPtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return fmtTS(*t)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseTSPtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTS(ns.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*SQLite)(nil)

func (d *SQLite) EnsureSource(ctx context.Context, h domain.SourceHealth) error {
	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO sources (id, kind, cadence_seconds, streaming, state, started_at, updated_at)
VALUES (?, ?, ?, ?, 'idle', ?, ?)
ON CONFLICT (id) DO UPDATE SET
  kind = excluded.kind,
  cadence_seconds = excluded.cadence_seconds,
  streaming = excluded.streaming,
  started_at = excluded.started_at,
  updated_at = excluded.updated_at;`,
		h.ID, h.Kind, int64(h.Cadence/time.Second), boolInt(h.Streaming), fmtTS(h.StartedAt), fmtTS(time.Now()),
	)
	return d.classify("ensure source", err)
}

func (d *SQLite) LoadSource(ctx context.Context, id string) (domain.SourceHealth, error) {
	var (
		h                                       domain.SourceHealth
		cadence                                 int64
		streaming                               int
		cursor, started, lastOK, lastErr, errAt sql.NullString
		next                                    sql.NullString
		state                                   string
	)
	err := d.Pool.QueryRowContext(ctx, `
SELECT id, kind, cadence_seconds, streaming, state, cursor, started_at,
       last_success_at, last_error, last_error_at, consecutive_failures, next_attempt_at
FROM sources WHERE id = ?;`, id).Scan(
		&h.ID, &h.Kind, &cadence, &streaming, &state, &cursor, &started,
		&lastOK, &lastErr, &errAt, &h.ConsecutiveFailures, &next,
	)
	if err == sql.ErrNoRows {
		return h, errors.Internal(fmt.Sprintf("source %q not registered", id), err)
	}
	if err != nil {
		return h, d.classify("load source", err)
	}
	h.Cadence = time.Duration(cadence) * time.Second
	h.Streaming = streaming != 0
	h.State = domain.SourceState(state)
	h.Cursor = cursor.String
	if started.Valid {
		h.StartedAt = parseTS(started.String)
	}
	h.LastSuccess = parseTSPtr(lastOK)
	h.LastError = lastErr.String
	h.LastErrorAt = parseTSPtr(errAt)
	h.NextAttempt = parseTSPtr(next)
	return h, nil
}

func (d *SQLite) SaveHealth(ctx context.Context, h domain.SourceHealth) error {
	_, err := d.Pool.ExecContext(ctx, `
UPDATE sources SET
  state = ?,
  last_success_at = ?,
  last_error = ?,
  last_error_at = ?,
  consecutive_failures = ?,
  next_attempt_at = ?,
  updated_at = ?
WHERE id = ?;`,
		string(h.State), fmtTSPtr(h.LastSuccess), nullString(h.LastError), fmtTSPtr(h.LastErrorAt),
		h.ConsecutiveFailures, fmtTSPtr(h.NextAttempt), fmtTS(time.Now()), h.ID,
	)
	return d.classify("save health", err)
}

func (d *SQLite) CompleteRun(ctx context.Context, run domain.IngestionRun, cursor *string) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return d.classify("begin run tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO ingestion_runs (id, source_id, started_at, finished_at, seen_count, new_count, malformed_count, outcome, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING;`,
		run.ID, run.SourceID, fmtTS(run.StartedAt), fmtTS(run.FinishedAt),
		run.Seen, run.New, run.Malformed, string(run.Outcome), nullString(run.Error),
	); err != nil {
		return d.classify("insert run", err)
	}

	if cursor != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sources SET cursor = ?, updated_at = ? WHERE id = ?;`,
			nullString(*cursor), fmtTS(time.Now()), run.SourceID,
		); err != nil {
			return d.classify("advance cursor", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return d.classify("commit run", err)
	}
	return nil
}

func (d *SQLite) RecentRuns(ctx context.Context, sourceID string, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT id, source_id, started_at, finished_at, seen_count, new_count, malformed_count, outcome, error
FROM ingestion_runs
WHERE (? = '' OR source_id = ?)
ORDER BY started_at DESC
LIMIT ?;`, sourceID, sourceID, limit)
	if err != nil {
		return nil, d.classify("list runs", err)
	}
	defer rows.Close()

	var out []domain.IngestionRun
	for rows.Next() {
		var (
			r              domain.IngestionRun
			started, ended string
			outcome        string
			errText        sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &started, &ended, &r.Seen, &r.New, &r.Malformed, &outcome, &errText); err != nil {
			return nil, d.classify("scan run", err)
		}
		r.StartedAt = parseTS(started)
		r.FinishedAt = parseTS(ended)
		r.Outcome = domain.RunOutcome(outcome)
		r.Error = errText.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify("list runs", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
