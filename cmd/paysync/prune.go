package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/paysync/pkg/logger"
)

const eventPruneInterval = time.Hour

type eventPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// pruneEvents deletes processed webhook events older than retention, once
// immediately and then on every tick, until ctx is done.
func pruneEvents(ctx context.Context, p eventPruner, retention, every time.Duration, log *slog.Logger) {
	prune := func() {
		start := time.Now()
		removed, err := p.Prune(ctx, start.Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				log.ErrorContext(ctx, "Failed to prune webhook events",
					logger.Component("event_log"),
					logger.Error(err),
				)
			}
			return
		}
		log.DebugContext(ctx, "Pruned webhook events",
			logger.Component("event_log"),
			slog.Int64("removed", removed),
			logger.Duration(time.Since(start)),
		)
	}

	prune()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
