// Package telegram is the streaming adapter: a long-lived MTProto user
// session receives new channel posts as they are published.
package telegram

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/tgtext"

	"go.uber.org/zap"
)

const Kind = "telegram"

type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
	LockPath    string
	Channels    []string // usernames or numeric channel ids; empty means every joined channel
	BatchSize   int
	Heartbeat   time.Duration
	QueueSize   int

	// BackfillLimit caps the history read per channel after a connect.
	BackfillLimit int
}

// History reads channel posts newer than the cursor, at most limit of
// them.
type History interface {
	History(ctx context.Context, channel string, seen Cursor, limit int) ([]tgtext.Message, error)
}

type Adapter struct {
	id     string
	cfg    Config
	parser tgtext.Parser
	logger *zap.Logger

	allow map[string]bool
	msgs  chan tgtext.Message

	// pending is owned by Fetch: handed out but not yet committed.
	pending []tgtext.Message

	mu         sync.Mutex
	connected  bool
	err        error
	changed    chan struct{}
	history    History
	backfilled map[string]bool
}

var (
	_ source.Adapter   = (*Adapter)(nil)
	_ source.Streaming = (*Adapter)(nil)
	_ source.Runner    = (*Adapter)(nil)
)

func New(id string, cfg Config, parser tgtext.Parser, logger *zap.Logger) (*Adapter, error) {
	if cfg.AppID == 0 || strings.TrimSpace(cfg.AppHash) == "" {
		return nil, errors.Configuration("telegram app_id and app_hash are required", nil)
	}
	if strings.TrimSpace(cfg.SessionPath) == "" {
		return nil, errors.Configuration("telegram session_path is required", nil)
	}
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.SessionPath + ".lock"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 50
	}

	allow := map[string]bool{}
	for _, c := range cfg.Channels {
		c = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "@"))
		if c != "" {
			allow[c] = true
		}
	}

	return &Adapter{
		id:         id,
		cfg:        cfg,
		parser:     parser,
		logger:     logger.With(zap.String("source", id)),
		allow:      allow,
		msgs:       make(chan tgtext.Message, cfg.QueueSize),
		changed:    make(chan struct{}),
		backfilled: map[string]bool{},
	}, nil
}

func (a *Adapter) ID() string      { return a.id }
func (a *Adapter) Kind() string    { return Kind }
func (a *Adapter) Streaming() bool { return true }

// Fetch suspends until at least one message is queued or the heartbeat
// elapses, then returns up to BatchSize messages newer than cursor. The
// returned cursor is the highest message id per channel in the batch.
//
// Messages stay pending until a later Fetch is called with a cursor that
// covers them, so a batch whose run was not committed is offered again.
// After every (re)connect the configured public channels are backfilled
// from history starting at cursor.
func (a *Adapter) Fetch(ctx context.Context, cursor string) (source.Batch, error) {
	seen := ParseCursor(cursor)
	deadline := time.NewTimer(a.cfg.Heartbeat)
	defer deadline.Stop()

	for {
		connected, changed, err := a.state()
		if connected {
			break
		}
		if err != nil {
			return source.Batch{}, err
		}
		select {
		case <-changed:
		case <-deadline.C:
			return source.Batch{}, errors.TransientFetch("telegram session not connected", nil)
		case <-ctx.Done():
			return source.Batch{}, errors.TransientFetch("telegram fetch cancelled", ctx.Err())
		}
	}

	a.ack(seen)
	if err := a.backfill(ctx, seen); err != nil {
		return source.Batch{}, err
	}

	for len(a.pending) == 0 {
		select {
		case m := <-a.msgs:
			a.take(seen, m)
		case <-deadline.C:
			return source.Batch{Cursor: cursor}, nil
		case <-ctx.Done():
			return source.Batch{}, errors.TransientFetch("telegram fetch cancelled", ctx.Err())
		}
	}
drain:
	for len(a.pending) < a.cfg.BatchSize {
		select {
		case m := <-a.msgs:
			a.take(seen, m)
		default:
			break drain
		}
	}

	n := min(len(a.pending), a.cfg.BatchSize)
	next := seen.clone()
	var batch source.Batch
	for _, m := range a.pending[:n] {
		a.add(&batch, m)
		next.advance(m)
	}
	batch.Cursor = next.String()
	return batch, nil
}

// ack drops pending messages the committed cursor covers.
func (a *Adapter) ack(seen Cursor) {
	kept := a.pending[:0]
	for _, m := range a.pending {
		if !seen.Covers(m) {
			kept = append(kept, m)
		}
	}
	a.pending = kept
}

// take adds m to pending unless it is already committed or pending. Pending
// stays ordered by message id so every channel's messages are handed out
// oldest first.
func (a *Adapter) take(seen Cursor, m tgtext.Message) {
	if seen.Covers(m) {
		return
	}
	for _, p := range a.pending {
		if p.ID == m.ID && p.Key() == m.Key() {
			return
		}
	}
	a.pending = append(a.pending, m)
	sort.SliceStable(a.pending, func(i, j int) bool {
		return a.pending[i].ID < a.pending[j].ID
	})
}

// backfill reads the history of every configured public channel not yet
// backfilled on this connection. A channel that fails is retried on the
// next Fetch.
func (a *Adapter) backfill(ctx context.Context, seen Cursor) error {
	a.mu.Lock()
	h := a.history
	todo := make([]string, 0, len(a.cfg.Channels))
	for _, ch := range a.publicChannels() {
		if !a.backfilled[ch] {
			todo = append(todo, ch)
		}
	}
	a.mu.Unlock()
	if h == nil || len(todo) == 0 {
		return nil
	}

	var failed error
	for _, ch := range todo {
		msgs, err := h.History(ctx, ch, seen, a.cfg.BackfillLimit)
		if err != nil {
			if ctx.Err() != nil {
				return errors.TransientFetch("telegram backfill cancelled", ctx.Err())
			}
			a.logger.Warn("telegram backfill failed", zap.String("channel", ch), zap.Error(err))
			if failed == nil || errors.IsConfiguration(err) {
				failed = err
			}
			continue
		}
		for _, m := range msgs {
			a.take(seen, m)
		}
		a.mu.Lock()
		a.backfilled[ch] = true
		a.mu.Unlock()
		if len(msgs) > 0 {
			a.logger.Info("telegram backfill", zap.String("channel", ch), zap.Int("messages", len(msgs)))
		}
	}
	if failed != nil {
		if errors.IsConfiguration(failed) {
			return failed
		}
		return errors.TransientFetch("telegram backfill", failed)
	}
	return nil
}

// publicChannels are the configured usernames. Numeric ids cannot be
// resolved to a history peer without an access hash.
func (a *Adapter) publicChannels() []string {
	var out []string
	for c := range a.allow {
		if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) add(b *source.Batch, m tgtext.Message) {
	p, ok, err := a.parser.Parse(a.id, m)
	switch {
	case err != nil:
		b.AddMalformed(err)
	case ok:
		b.Add(p)
	default:
		a.logger.Debug("skipped non-job message",
			zap.String("channel", m.Channel),
			zap.Int("message_id", m.ID))
	}
}

// enqueue blocks when the queue is full so a slow pipeline slows the
// update handler instead of dropping posts.
func (a *Adapter) enqueue(ctx context.Context, m tgtext.Message) {
	select {
	case a.msgs <- m:
	case <-ctx.Done():
	}
}

func (a *Adapter) wanted(channelID int64, username string) bool {
	if len(a.allow) == 0 {
		return true
	}
	return a.allow[strings.ToLower(username)] || a.allow[strconv.FormatInt(channelID, 10)]
}

func (a *Adapter) state() (bool, <-chan struct{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected, a.changed, a.err
}

// setState records the connection state. A new connection with h set
// schedules a history backfill of every public channel.
func (a *Adapter) setState(connected bool, err error) {
	a.connect(connected, nil, err)
}

func (a *Adapter) connect(connected bool, h History, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = connected
	a.err = err
	a.history = h
	if connected {
		a.backfilled = map[string]bool{}
	}
	close(a.changed)
	a.changed = make(chan struct{})
}
