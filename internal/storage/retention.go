package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunRetention periodically removes persisted scores whose last update is
// older than the retention window. Blocks until the context is done.
func (r *Repository) RunRetention(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			count, err := r.DeleteStaleScores(cutoff)
			if err != nil {
				log.Error().Err(err).Msg("Failed to prune stale scores")
				continue
			}
			if count > 0 {
				log.Info().Int64("deleted", count).Msg("Pruned stale persisted scores")
			}
		}
	}
}
