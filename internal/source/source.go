// Package source defines the adapter contract every job source implements.
// Adapters are pure producers: they never touch the store.
package source

import (
	"context"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
)

// Item is one raw posting after normalization. Err is set instead of
// Posting when the payload could not be parsed; the batch continues.
type Item struct {
	Posting domain.Posting
	Err     error
}

// Batch is the finite result of one Fetch. Cursor is empty when the source
// has no incremental position.
type Batch struct {
	Items  []Item
	Cursor string
}

func (b *Batch) Add(p domain.Posting) {
	b.Items = append(b.Items, Item{Posting: p})
}

func (b *Batch) AddMalformed(err error) {
	b.Items = append(b.Items, Item{Err: err})
}

type Adapter interface {
	ID() string
	Kind() string
	// Fetch returns one poll's worth of postings starting after cursor.
	// Source-level failures are TransientFetch or Configuration errors.
	Fetch(ctx context.Context, cursor string) (Batch, error)
}

// Streaming adapters suspend inside Fetch until events arrive (or a
// heartbeat elapses) and are re-invoked immediately.
type Streaming interface {
	Streaming() bool
}

// Runner adapters hold a long-lived connection for the lifetime of ctx.
// The scheduler runs Run alongside the source loop and the connection is
// released when Run returns.
type Runner interface {
	Run(ctx context.Context) error
}

func IsStreaming(a Adapter) bool {
	s, ok := a.(Streaming)
	return ok && s.Streaming()
}

// Misconfigured stands in for an adapter that could not be built. Every
// Fetch fails with the configuration error so the source stays in backoff
// and is reported, while the rest of the engine keeps running.
type Misconfigured struct {
	SourceID   string
	SourceKind string
	Err        error
}

func (m Misconfigured) ID() string   { return m.SourceID }
func (m Misconfigured) Kind() string { return m.SourceKind }

func (m Misconfigured) Fetch(context.Context, string) (Batch, error) {
	if errors.IsConfiguration(m.Err) {
		return Batch{}, m.Err
	}
	return Batch{}, errors.Configuration("source "+m.SourceID+" is misconfigured", m.Err)
}
