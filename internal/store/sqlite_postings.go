package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"jobfeed-engine/internal/domain"
)

// Upsert relies on the unique index on postings(fingerprint): the insert
// either wins or is ignored, and an ignored insert falls through to a
// last_seen bump that never moves backwards.
func (d *SQLite) Upsert(ctx context.Context, p domain.Posting) (Outcome, error) {
	if err := validatePosting(p); err != nil {
		return 0, err
	}
	seen := fmtTS(observedAt(p))

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	var raw any
	if len(p.Raw) > 0 {
		raw = string(p.Raw)
	}

	res, err := d.Pool.ExecContext(ctx, `
INSERT INTO postings (
  fingerprint, source_id, external_id, title, organization, location, description,
  url, work_mode, tags, salary_min, salary_max, posted_at, raw_payload, first_seen_at, last_seen_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (fingerprint) DO NOTHING;`,
		p.Fingerprint, p.SourceID, nullString(p.ExternalID), p.Title, p.Organization, p.Location, p.Description,
		p.URL, workMode(p.WorkMode), string(tagsJSON), p.SalaryMin, p.SalaryMax, fmtTSPtr(p.PostedAt), raw, seen, seen,
	)
	if err != nil {
		return 0, d.classify("insert posting", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return OutcomeNew, nil
	}

	if _, err := d.Pool.ExecContext(ctx, `
UPDATE postings
SET last_seen_at = MAX(last_seen_at, ?)
WHERE fingerprint = ?;`, seen, p.Fingerprint); err != nil {
		return 0, d.classify("touch posting", err)
	}
	return OutcomeSeenAgain, nil
}

func (d *SQLite) RecentPostings(ctx context.Context, q PostingQuery) ([]domain.Posting, error) {
	since := ""
	if t, ok := q.since(time.Now()); ok {
		since = fmtTS(t)
	}

	rows, err := d.Pool.QueryContext(ctx, `
SELECT fingerprint, source_id, external_id, title, organization, location, description,
       url, work_mode, tags, salary_min, salary_max, posted_at, first_seen_at, last_seen_at
FROM postings
WHERE (? = '' OR source_id = ?)
  AND (? = '' OR first_seen_at >= ?)
ORDER BY first_seen_at DESC
LIMIT ?;`, q.SourceID, q.SourceID, since, since, q.limit())
	if err != nil {
		return nil, d.classify("list postings", err)
	}
	defer rows.Close()

	var out []domain.Posting
	for rows.Next() {
		var (
			p                   domain.Posting
			extID, posted       sql.NullString
			tagsJSON            string
			salMin, salMax      sql.NullFloat64
			firstSeen, lastSeen string
		)
		if err := rows.Scan(
			&p.Fingerprint, &p.SourceID, &extID, &p.Title, &p.Organization, &p.Location, &p.Description,
			&p.URL, &p.WorkMode, &tagsJSON, &salMin, &salMax, &posted, &firstSeen, &lastSeen,
		); err != nil {
			return nil, d.classify("scan posting", err)
		}
		p.ExternalID = extID.String
		_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
		if salMin.Valid {
			v := salMin.Float64
			p.SalaryMin = &v
		}
		if salMax.Valid {
			v := salMax.Float64
			p.SalaryMax = &v
		}
		p.PostedAt = parseTSPtr(posted)
		p.FirstSeen = parseTS(firstSeen)
		p.LastSeen = parseTS(lastSeen)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, d.classify("list postings", err)
	}
	return out, nil
}

func (d *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM postings WHERE last_seen_at < ?;`, fmtTS(before))
	if err != nil {
		return 0, d.classify("prune postings", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func workMode(mode string) string {
	if mode == "" {
		return "unknown"
	}
	return mode
}
