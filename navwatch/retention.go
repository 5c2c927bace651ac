package navwatch

import (
	"context"
	"log/slog"
	"time"
)

// RunRetention prunes journal events older than retention, once at start
// and then every interval, until ctx is cancelled.
func RunRetention(ctx context.Context, j *Journal, retention, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	prune := func() {
		n, err := j.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("navwatch: journal prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("navwatch: journal pruned", "deleted", n, "retention", retention)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
