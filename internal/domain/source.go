package domain

import "time"

type SourceState string

const (
	StateIdle       SourceState = "idle"
	StateFetching   SourceState = "fetching"
	StateProcessing SourceState = "processing"
	StateBackoff    SourceState = "backoff"
)

// SourceHealth is a snapshot of one configured source. The scheduler is the
// only writer; everyone else receives copies.
type SourceHealth struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Cadence   time.Duration `json:"cadence"`
	Streaming bool          `json:"streaming"`
	State     SourceState   `json:"state"`

	StartedAt           time.Time  `json:"started_at"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextAttempt         *time.Time `json:"next_attempt,omitempty"`

	Cursor string `json:"-"`
}
