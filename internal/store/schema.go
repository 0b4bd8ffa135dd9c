package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema/postgres/*.sql schema/sqlite/*.sql
var schemaFS embed.FS

type Migration struct {
	Version     int
	Description string
	Up          string
}

// Migrations returns the embedded migrations for driver, ordered by version.
// File names follow NNN_description.sql.
func Migrations(driver string) ([]Migration, error) {
	dir := "schema/sqlite"
	if isPostgres(driver) {
		dir = "schema/postgres"
	}
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: expected NNN_description.sql", name)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", name, err)
		}
		b, err := schemaFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Description: desc, Up: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies pending migrations. Only the provisioning tool calls it;
// the engine verifies and never creates.
func Migrate(ctx context.Context, s Store, logger *zap.Logger) (applied int, err error) {
	switch db := s.(type) {
	case *SQLite:
		return migrateSQLite(ctx, db.Pool, logger)
	case *Postgres:
		return migratePostgres(ctx, db.Pool, logger)
	default:
		return 0, fmt.Errorf("migrate: unsupported store %T", s)
	}
}

// migrateSQLite tracks the schema version in PRAGMA user_version.
func migrateSQLite(ctx context.Context, db *sql.DB, logger *zap.Logger) (int, error) {
	migrations, err := Migrations("sqlite")
	if err != nil {
		return 0, err
	}

	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&current); err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, err
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, m.Version)); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, err
		}
		logger.Info("applied migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))
		applied++
	}
	return applied, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (int, error) {
	migrations, err := Migrations("postgres")
	if err != nil {
		return 0, err
	}

	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version     INTEGER PRIMARY KEY,
  description TEXT NOT NULL,
  applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("query migrations: %w", err)
	}
	done := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		done[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, err
		}
		logger.Info("applied migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))
		applied++
	}
	return applied, nil
}

func isPostgres(driver string) bool {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}
