package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
)

// sweep is a periodic job that reports how many records it handled.
type sweep func(ctx context.Context, now time.Time) (int, error)

// every runs job on each tick until ctx is done. Job errors are logged and
// the loop keeps going.
func every(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, job sweep) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger = logger.With("worker", name)
	logger.Info("worker started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}

		n, err := job(ctx, time.Now())
		if err != nil {
			apperr.Log(ctx, logger, "worker run failed", err)
			continue
		}

		if n > 0 {
			logger.Info("worker run finished", "handled", n)
		}
	}
}
