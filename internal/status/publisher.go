package status

import (
	"context"
	"sync"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/events"

	"go.uber.org/zap"
)

// Publisher holds the latest health snapshot handed over by the scheduler
// and republishes the derived report. It never reads scheduler state
// directly.
type Publisher struct {
	policy Policy
	sink   events.Sink
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	snapshot []domain.SourceHealth
	last     Status
}

func NewPublisher(policy Policy, sink events.Sink, logger *zap.Logger) *Publisher {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Publisher{policy: policy, sink: sink, logger: logger, now: time.Now, last: Connected}
}

// Observe stores a copy of the snapshot and emits the recomputed report.
func (p *Publisher) Observe(snapshot []domain.SourceHealth) {
	cp := make([]domain.SourceHealth, len(snapshot))
	copy(cp, snapshot)

	p.mu.Lock()
	p.snapshot = cp
	r := Compute(p.now().UTC(), cp, p.policy)
	changed := r.Status != p.last
	prev := p.last
	p.last = r.Status
	p.mu.Unlock()

	if changed {
		p.logChange(prev, r)
	}
	p.sink.Emit(events.TypeStatus, r)
}

// Current recomputes the report for the present moment, so staleness is
// reflected even when no source changed state.
func (p *Publisher) Current() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Compute(p.now().UTC(), p.snapshot, p.policy)
}

// Refresh re-emits the report when its status changed through the passage
// of time alone. It is run periodically.
func (p *Publisher) Refresh(context.Context) error {
	p.mu.Lock()
	r := Compute(p.now().UTC(), p.snapshot, p.policy)
	prev := p.last
	p.last = r.Status
	p.mu.Unlock()

	if r.Status != prev {
		p.logChange(prev, r)
		p.sink.Emit(events.TypeStatus, r)
	}
	return nil
}

func (p *Publisher) logChange(prev Status, r Report) {
	fields := []zap.Field{
		zap.String("from", string(prev)),
		zap.String("to", string(r.Status)),
	}
	for _, s := range r.Sources {
		if s.Status != Connected {
			fields = append(fields, zap.String("source."+s.ID, string(s.Status)+": "+s.Reason))
		}
	}
	if r.Status == Error {
		p.logger.Warn("system status changed", fields...)
		return
	}
	p.logger.Info("system status changed", fields...)
}
