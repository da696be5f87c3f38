package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartCachePruner deletes cached messages older than retention every
// interval until ctx is done. Failures are logged and retried on the
// next tick.
func StartCachePruner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).Unix()
				res, err := db.ExecContext(ctx, `
                    DELETE FROM cached_messages
                     WHERE ts < $1
                `, cutoff)
				if err != nil {
					log.Error("failed to prune cached messages", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("pruned cached messages", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
