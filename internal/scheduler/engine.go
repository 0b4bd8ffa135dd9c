package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/events"
	"jobfeed-engine/internal/lease"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/store"
	"jobfeed-engine/internal/telemetry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownSource = stderrors.New("unknown source")

var tracer = telemetry.GetTracer("jobfeed-engine/scheduler")

type Source struct {
	Adapter source.Adapter
	Cadence time.Duration
}

type Options struct {
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	FetchTimeout   time.Duration
	ShutdownGrace  time.Duration
	StoreRetries   int
	StoreRetryBase time.Duration
	LeaseTTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Minute
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = o.BackoffBase
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 2 * time.Minute
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.StoreRetries < 0 {
		o.StoreRetries = 0
	}
	if o.StoreRetryBase <= 0 {
		o.StoreRetryBase = 100 * time.Millisecond
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 5 * time.Minute
	}
	return o
}

// Observer receives a copy of every source's health after each state
// transition.
type Observer interface {
	Observe(snapshot []domain.SourceHealth)
}

type Deps struct {
	Store    store.Store
	Logger   *zap.Logger
	Leaser   lease.Leaser // optional
	Sink     events.Sink  // optional
	Observer Observer     // optional
}

// Scheduler drives every configured source through its fetch cycle. Each
// source runs in its own goroutine with its own backoff; a failing source
// never delays another.
type Scheduler struct {
	opts    Options
	deps    Deps
	logger  *zap.Logger
	now     func() time.Time
	runners []*runner
	byID    map[string]*runner
	obsMu   sync.Mutex
}

func New(sources []Source, opts Options, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = events.Nop{}
	}
	s := &Scheduler{
		opts:   opts.withDefaults(),
		deps:   deps,
		logger: deps.Logger,
		now:    time.Now,
		byID:   make(map[string]*runner, len(sources)),
	}
	for _, src := range sources {
		id := src.Adapter.ID()
		if _, dup := s.byID[id]; dup {
			return nil, fmt.Errorf("scheduler: duplicate source id %q", id)
		}
		r := newRunner(s, src)
		s.runners = append(s.runners, r)
		s.byID[id] = r
	}
	return s, nil
}

// Run restores persisted cursors and health, then drives all sources until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}
	s.publish()
	s.logger.Info("scheduler started", zap.Int("sources", len(s.runners)))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		r := r
		if rn, ok := r.src.Adapter.(source.Runner); ok {
			g.Go(func() error {
				if err := rn.Run(gctx); err != nil && gctx.Err() == nil {
					r.logger.Error("source connection stopped", zap.Error(err))
				}
				return nil
			})
		}
		g.Go(func() error {
			r.loop(gctx)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) restore(ctx context.Context) error {
	started := s.now().UTC()
	for _, r := range s.runners {
		reg := r.snapshot()
		reg.StartedAt = started
		if err := s.deps.Store.EnsureSource(ctx, reg); err != nil {
			return err
		}
		saved, err := s.deps.Store.LoadSource(ctx, r.id)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.health.StartedAt = started
		r.health.Cursor = saved.Cursor
		r.health.LastSuccess = saved.LastSuccess
		r.health.LastError = saved.LastError
		r.health.LastErrorAt = saved.LastErrorAt
		r.health.ConsecutiveFailures = saved.ConsecutiveFailures
		r.health.NextAttempt = saved.NextAttempt
		r.mu.Unlock()
	}
	return nil
}

// Trigger wakes the source for an immediate cycle. A source in backoff or
// mid-cycle picks the request up after its current step.
func (s *Scheduler) Trigger(id string) error {
	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	select {
	case r.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns a copy of every source's health in configuration order.
func (s *Scheduler) Snapshot() []domain.SourceHealth {
	out := make([]domain.SourceHealth, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r.snapshot())
	}
	return out
}

func (s *Scheduler) publish() {
	if s.deps.Observer == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.deps.Observer.Observe(s.Snapshot())
}

// graceContext returns a context that outlives parent by grace. Work that
// has already fetched a batch finishes writing it after shutdown begins.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
