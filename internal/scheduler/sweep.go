package scheduler

import (
	"log/slog"
	"time"

	"listing-bot/internal/metrics"
)

const DraftSweepTag = "draft-sweep"

// DraftSweeper drops drafts idle for longer than the given duration and
// returns how many it removed. Len is the number of drafts still open.
type DraftSweeper interface {
	Sweep(idle time.Duration) int
	Len() int
}

// DraftSweepJob returns the task that expires abandoned drafts.
func DraftSweepJob(drafts DraftSweeper, ttl time.Duration, m metrics.MetricsCollector, logger *slog.Logger) func() {
	if m == nil {
		m = metrics.Nop{}
	}
	return func() {
		n := drafts.Sweep(ttl)
		if n == 0 {
			return
		}
		m.RecordDraftsExpired(n)
		logger.Info("expired idle drafts",
			slog.Int("count", n),
			slog.Int("open", drafts.Len()),
			slog.Duration("ttl", ttl),
		)
	}
}
