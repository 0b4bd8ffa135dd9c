// Package status derives the single system status shown to the dashboard
// from per-source health.
package status

import (
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
)

type Status string

const (
	Connected Status = "connected"
	Warning   Status = "warning"
	Error     Status = "error"
)

func (s Status) rank() int {
	switch s {
	case Error:
		return 2
	case Warning:
		return 1
	default:
		return 0
	}
}

type Policy struct {
	// MaxStaleness is the age of the last success past which a source is
	// in error. Zero disables the check.
	MaxStaleness time.Duration
	// WarnFailures and ErrorFailures are consecutive-failure thresholds.
	WarnFailures  int
	ErrorFailures int
	// StaleFactor multiplies the cadence to get the warning age.
	StaleFactor int
}

func DefaultPolicy(maxStaleness time.Duration) Policy {
	return Policy{
		MaxStaleness:  maxStaleness,
		WarnFailures:  1,
		ErrorFailures: 3,
		StaleFactor:   2,
	}
}

// SourceStatus is the public view of one source. LastError carries only
// the error class, never the message.
type SourceStatus struct {
	ID                  string             `json:"id"`
	Kind                string             `json:"kind"`
	Status              Status             `json:"status"`
	Reason              string             `json:"reason,omitempty"`
	State               domain.SourceState `json:"state"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastSuccess         *time.Time         `json:"last_success,omitempty"`
	LastError           string             `json:"last_error,omitempty"`
	LastErrorAt         *time.Time         `json:"last_error_at,omitempty"`
	NextAttempt         *time.Time         `json:"next_attempt,omitempty"`
}

type Report struct {
	Status  Status         `json:"status"`
	At      time.Time      `json:"at"`
	Sources []SourceStatus `json:"sources"`
}

// Compute is pure: the same inputs always give the same report.
//
// A source is in error with ErrorFailures or more consecutive failures,
// with a configuration error, or with no success within MaxStaleness. It
// is in warning with at least WarnFailures failures or no success within
// StaleFactor cadences. A source that never succeeded is aged from the
// time it was started. The system status is the worst source status; no
// sources means connected.
func Compute(now time.Time, sources []domain.SourceHealth, p Policy) Report {
	if p.ErrorFailures <= 0 {
		p = DefaultPolicy(p.MaxStaleness)
	}
	r := Report{Status: Connected, At: now, Sources: make([]SourceStatus, 0, len(sources))}
	for _, h := range sources {
		st, reason := classify(now, h, p)
		r.Sources = append(r.Sources, SourceStatus{
			ID:                  h.ID,
			Kind:                h.Kind,
			Status:              st,
			Reason:              reason,
			State:               h.State,
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastSuccess:         h.LastSuccess,
			LastError:           h.LastError,
			LastErrorAt:         h.LastErrorAt,
			NextAttempt:         h.NextAttempt,
		})
		if st.rank() > r.Status.rank() {
			r.Status = st
		}
	}
	return r
}

func classify(now time.Time, h domain.SourceHealth, p Policy) (Status, string) {
	ref := h.StartedAt
	if h.LastSuccess != nil {
		ref = *h.LastSuccess
	}
	age := now.Sub(ref)

	switch {
	case h.LastError == string(errors.ErrTypeConfiguration) && h.ConsecutiveFailures > 0:
		return Error, "misconfigured"
	case h.ConsecutiveFailures >= p.ErrorFailures:
		return Error, "failing"
	case p.MaxStaleness > 0 && age > p.MaxStaleness:
		return Error, "stale"
	case h.ConsecutiveFailures >= p.WarnFailures:
		return Warning, "retrying"
	case h.LastSuccess == nil:
		return Warning, "no successful run yet"
	case h.Cadence > 0 && age > time.Duration(p.StaleFactor)*h.Cadence:
		return Warning, "stale"
	}
	return Connected, ""
}
