// Package lease hands out short exclusive leases on a source so that
// several engine instances sharing one store do not fetch the same source
// in the same cycle. The store stays correct without leases; they only
// save duplicate work.
package lease

import (
	"context"
	"sync"
	"time"
)

// Release gives a lease back before its TTL expires.
type Release func(ctx context.Context)

type Leaser interface {
	// TryAcquire returns ok=false when another holder owns key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

// Local leases within one process. It is the default when no Redis is
// configured; a source only ever runs on one goroutine, so it never
// contends in practice.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]time.Time{}, now: time.Now}
}

func (l *Local) TryAcquire(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}
