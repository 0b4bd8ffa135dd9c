package domain

import (
	"encoding/json"
	"time"
)

// Posting is the canonical, source-agnostic form of a job listing.
type Posting struct {
	SourceID     string          `json:"source_id"`
	ExternalID   string          `json:"external_id,omitempty"`
	Title        string          `json:"title"`
	Organization string          `json:"organization"`
	Location     string          `json:"location"`
	Description  string          `json:"description"`
	URL          string          `json:"url,omitempty"`
	WorkMode     string          `json:"work_mode"` // remote/hybrid/onsite/unknown
	Tags         []string        `json:"tags,omitempty"`
	SalaryMin    *float64        `json:"salary_min,omitempty"`
	SalaryMax    *float64        `json:"salary_max,omitempty"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`

	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunPartial RunOutcome = "partial"
	RunFailure RunOutcome = "failure"
)

// IngestionRun is the audit record of one fetch-and-process cycle.
type IngestionRun struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Seen       int        `json:"seen"`
	New        int        `json:"new"`
	Malformed  int        `json:"malformed"`
	Outcome    RunOutcome `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}
