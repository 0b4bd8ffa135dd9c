package telegram

import (
	"context"
	"testing"
	"time"

	"jobfeed-engine/internal/errors"

	"github.com/gofrs/flock"
)

func holdLock(ctx context.Context, path string, held chan<- struct{}) error {
	lock := flock.New(path)
	if _, err := lock.TryLock(); err != nil {
		return err
	}
	close(held)
	<-ctx.Done()
	return lock.Unlock()
}

func TestRunReportsLockedSession(t *testing.T) {
	dir := t.TempDir()
	first := newTestAdapter(t, Config{SessionPath: dir + "/s.json", Heartbeat: 50 * time.Millisecond})
	second := newTestAdapter(t, Config{SessionPath: dir + "/s.json", Heartbeat: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	held := make(chan struct{})
	go func() {
		_ = holdLock(ctx, first.cfg.LockPath, held)
	}()
	<-held

	go func() { _ = second.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := second.state(); errors.IsConfiguration(err) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("second adapter did not report the locked session")
}
