package scheduler

import (
	"context"
	"time"

	"jobfeed-engine/internal/store"

	"go.uber.org/zap"
)

// PruneTask deletes postings that have not been seen for retention.
func PruneTask(st store.Store, retention time.Duration, logger *zap.Logger) Task {
	return func(ctx context.Context) error {
		before := time.Now().Add(-retention)
		n, err := st.Prune(ctx, before)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("pruned stale postings", zap.Int64("deleted", n), zap.Time("before", before))
		}
		return nil
	}
}
