package scheduler

import (
	"context"
	"sync"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/events"
	"jobfeed-engine/internal/fingerprint"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/store"
	"jobfeed-engine/internal/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RunSummary is the payload of a run.completed event.
type RunSummary struct {
	domain.IngestionRun
	Kind string `json:"kind"`
}

type runner struct {
	s         *Scheduler
	src       Source
	id        string
	streaming bool
	trigger   chan struct{}
	bo        *backoff.ExponentialBackOff
	logger    *zap.Logger

	mu     sync.Mutex
	health domain.SourceHealth
}

func newRunner(s *Scheduler, src Source) *runner {
	id := src.Adapter.ID()
	streaming := source.IsStreaming(src.Adapter)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.BackoffBase
	bo.MaxInterval = s.opts.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &runner{
		s:         s,
		src:       src,
		id:        id,
		streaming: streaming,
		trigger:   make(chan struct{}, 1),
		bo:        bo,
		logger:    s.logger.With(zap.String("source", id), zap.String("kind", src.Adapter.Kind())),
		health: domain.SourceHealth{
			ID:        id,
			Kind:      src.Adapter.Kind(),
			Cadence:   src.Cadence,
			Streaming: streaming,
			State:     domain.StateIdle,
		},
	}
}

func (r *runner) snapshot() domain.SourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

func (r *runner) update(fn func(h *domain.SourceHealth)) domain.SourceHealth {
	r.mu.Lock()
	fn(&r.health)
	h := r.health
	r.mu.Unlock()
	r.s.publish()
	return h
}

func (r *runner) setState(st domain.SourceState) {
	r.update(func(h *domain.SourceHealth) { h.State = st })
}

func (r *runner) loop(ctx context.Context) {
	wait := time.Duration(0)
	if next := r.snapshot().NextAttempt; next != nil {
		wait = next.Sub(r.s.now())
	}
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-r.trigger:
				timer.Stop()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}
		if r.snapshot().State == domain.StateBackoff {
			r.setState(domain.StateIdle)
		}
		wait = r.cycle(ctx)
	}
}

// cycle runs Fetching then Processing once and returns how long to wait
// before the next attempt.
func (r *runner) cycle(ctx context.Context) time.Duration {
	ctx, span := tracer.Start(ctx, "scheduler.cycle", trace.WithAttributes(
		telemetry.String("source.id", r.id),
		telemetry.String("source.kind", r.src.Adapter.Kind()),
	))
	defer span.End()

	if !r.streaming && r.s.deps.Leaser != nil {
		release, ok, err := r.s.deps.Leaser.TryAcquire(ctx, r.id, r.s.opts.LeaseTTL)
		switch {
		case err != nil:
			r.logger.Warn("lease unavailable, fetching anyway", zap.Error(err))
		case !ok:
			r.logger.Debug("source leased by another instance, skipping cycle")
			r.adopt(ctx)
			return r.src.Cadence
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	run := domain.IngestionRun{
		ID:        uuid.NewString(),
		SourceID:  r.id,
		StartedAt: r.s.now().UTC(),
	}
	cursor := r.update(func(h *domain.SourceHealth) { h.State = domain.StateFetching }).Cursor

	fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout())
	batch, err := r.src.Adapter.Fetch(fctx, cursor)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			r.setState(domain.StateIdle)
			return 0
		}
		span.SetStatus(codes.Error, err.Error())
		return r.fail(ctx, run, err)
	}

	pctx, stop := graceContext(ctx, r.s.opts.ShutdownGrace)
	defer stop()

	r.setState(domain.StateProcessing)
	err = r.process(pctx, &run, batch)
	span.SetAttributes(
		telemetry.Int("run.seen", run.Seen),
		telemetry.Int("run.new", run.New),
		telemetry.Int("run.malformed", run.Malformed),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return r.fail(pctx, run, err)
	}

	run.Outcome = domain.RunSuccess
	if run.Malformed > 0 {
		run.Outcome = domain.RunPartial
	}
	run.FinishedAt = r.s.now().UTC()

	var next *string
	if batch.Cursor != "" {
		c := batch.Cursor
		next = &c
	}
	if err := r.retryStore(pctx, func(ctx context.Context) error {
		return r.s.deps.Store.CompleteRun(ctx, run, next)
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return r.fail(pctx, run, err)
	}
	return r.succeed(pctx, run, batch.Cursor)
}

// adopt copies the health another instance persisted for this source, so
// a source that is fetched elsewhere is still reported from here.
func (r *runner) adopt(ctx context.Context) {
	saved, err := r.s.deps.Store.LoadSource(ctx, r.id)
	if err != nil {
		r.logger.Warn("could not load source health", zap.Error(err))
		return
	}
	r.update(func(h *domain.SourceHealth) {
		h.Cursor = saved.Cursor
		h.LastSuccess = saved.LastSuccess
		h.LastError = saved.LastError
		h.LastErrorAt = saved.LastErrorAt
		h.ConsecutiveFailures = saved.ConsecutiveFailures
		h.NextAttempt = saved.NextAttempt
	})
}

func (r *runner) fetchTimeout() time.Duration {
	if r.streaming {
		return r.src.Cadence + r.s.opts.FetchTimeout
	}
	return r.s.opts.FetchTimeout
}

// process upserts every item of batch. Malformed items and postings the
// store rejects are counted and skipped; an unavailable store aborts the
// run so the cursor stays where it was.
func (r *runner) process(ctx context.Context, run *domain.IngestionRun, batch source.Batch) error {
	run.Seen = len(batch.Items)
	for i, it := range batch.Items {
		if it.Err != nil {
			run.Malformed++
			r.logger.Warn("skipping malformed item", zap.Int("index", i), zap.Error(it.Err))
			continue
		}

		p := it.Posting
		if p.SourceID == "" {
			p.SourceID = r.id
		}
		p.Fingerprint = fingerprint.Compute(p)
		p.LastSeen = run.StartedAt

		var out store.Outcome
		err := r.retryStore(ctx, func(ctx context.Context) error {
			o, err := r.s.deps.Store.Upsert(ctx, p)
			out = o
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return errors.StoreUnavailable("processing interrupted", ctx.Err())
			}
			if errors.IsStoreUnavailable(err) {
				return err
			}
			run.Malformed++
			r.logger.Warn("store rejected posting",
				zap.Int("index", i),
				zap.String("external_id", p.ExternalID),
				zap.Error(err))
			continue
		}
		if out == store.OutcomeNew {
			run.New++
			r.s.deps.Sink.Emit(events.TypePostingNew, p)
		}
	}
	return nil
}

func (r *runner) retryStore(ctx context.Context, op func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.s.opts.StoreRetryBase
	eb.MaxInterval = 20 * r.s.opts.StoreRetryBase
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.s.opts.StoreRetries)), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && !errors.IsStoreUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (r *runner) succeed(ctx context.Context, run domain.IngestionRun, cursor string) time.Duration {
	now := r.s.now().UTC()
	r.bo.Reset()

	h := r.update(func(h *domain.SourceHealth) {
		h.State = domain.StateIdle
		h.ConsecutiveFailures = 0
		h.LastSuccess = &now
		if cursor != "" {
			h.Cursor = cursor
		}
		if r.streaming {
			h.NextAttempt = nil
		} else {
			next := now.Add(r.src.Cadence)
			h.NextAttempt = &next
		}
	})
	r.saveHealth(ctx, h)

	if run.Seen > 0 || !r.streaming {
		r.logger.Info("run completed",
			zap.String("run_id", run.ID),
			zap.String("outcome", string(run.Outcome)),
			zap.Int("seen", run.Seen),
			zap.Int("new", run.New),
			zap.Int("malformed", run.Malformed),
			zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	}
	r.s.deps.Sink.Emit(events.TypeRunCompleted, RunSummary{IngestionRun: run, Kind: r.src.Adapter.Kind()})

	if r.streaming {
		return 0
	}
	return r.src.Cadence
}

// fail moves the source into Backoff. Configuration errors wait the full
// backoff ceiling since retrying sooner cannot help.
func (r *runner) fail(ctx context.Context, run domain.IngestionRun, err error) time.Duration {
	now := r.s.now().UTC()
	typ := errors.TypeOf(err)

	delay := r.s.opts.BackoffMax
	if !errors.IsConfiguration(err) {
		delay = r.bo.NextBackOff()
		if delay == backoff.Stop || delay > r.s.opts.BackoffMax {
			delay = r.s.opts.BackoffMax
		}
	}
	next := now.Add(delay)

	h := r.update(func(h *domain.SourceHealth) {
		h.State = domain.StateBackoff
		h.ConsecutiveFailures++
		h.LastError = string(typ)
		h.LastErrorAt = &now
		h.NextAttempt = &next
	})

	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("error_type", string(typ)),
		zap.Int("consecutive_failures", h.ConsecutiveFailures),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	}
	if errors.IsConfiguration(err) {
		r.logger.Error("source misconfigured", fields...)
	} else {
		r.logger.Warn("run failed", fields...)
	}

	run.FinishedAt = now
	run.Outcome = domain.RunFailure
	run.Error = string(typ)
	if cerr := r.s.deps.Store.CompleteRun(ctx, run, nil); cerr != nil {
		r.logger.Warn("could not record failed run", zap.Error(cerr))
	}
	r.saveHealth(ctx, h)
	r.s.deps.Sink.Emit(events.TypeRunCompleted, RunSummary{IngestionRun: run, Kind: r.src.Adapter.Kind()})
	return delay
}

func (r *runner) saveHealth(ctx context.Context, h domain.SourceHealth) {
	if err := r.s.deps.Store.SaveHealth(ctx, h); err != nil {
		r.logger.Warn("could not persist source health", zap.Error(err))
	}
	r.s.deps.Sink.Emit(events.TypeSourceHealth, h)
}
