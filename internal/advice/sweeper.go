package advice

import (
	"context"
	"time"

	"github.com/manatap/triage/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often expired advice rows are purged.
const DefaultSweepInterval = time.Hour

// Sweeper periodically deletes expired advice rows. Expired rows already read
// as misses; sweeping only reclaims space.
type Sweeper struct {
	store    store.AdviceStore
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper that runs on the given interval.
func NewSweeper(s store.AdviceStore, interval time.Duration) *Sweeper {
	if interval < time.Minute {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: s, interval: interval, now: time.Now}
}

// Start runs the sweeper until ctx is canceled.
func (w *Sweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Advice sweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Advice sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns the number of rows purged.
func (w *Sweeper) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := w.store.PurgeExpiredAdvice(ctx, w.now())
	if err != nil {
		log.Warn().Err(err).Msg("Advice sweep failed")
		return 0
	}
	if n > 0 {
		log.Info().Int("purged", n).Dur("elapsed", time.Since(start)).Msg("Advice sweep complete")
	}
	return n
}
