package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper evicts abandoned sessions on a timer. Callers that hang up mid-flow
// send no further webhooks, so reclamation is timeout-based.
type Sweeper struct {
	Store    Store
	MaxAge   time.Duration
	Interval time.Duration
	Logger   zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.Store.SweepStale(ctx, w.MaxAge)
			if err != nil {
				w.Logger.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if removed > 0 {
				w.Logger.Info().Int("removed", removed).Msg("swept stale call sessions")
			}
		}
	}
}
