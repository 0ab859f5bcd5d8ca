package game

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"snakeserver/internal/session"
	"snakeserver/internal/stats"
)

// Reaper evicts sessions that saw no join, move or leave for a while and
// have no connected participant left.
type Reaper struct {
	store    *session.Store
	registry *session.Registry
	stats    *stats.Counters

	idle     time.Duration
	interval time.Duration
}

func NewReaper(store *session.Store, registry *session.Registry, counters *stats.Counters, idle, interval time.Duration) *Reaper {
	return &Reaper{
		store:    store,
		registry: registry,
		stats:    counters,
		idle:     idle,
		interval: interval,
	}
}

// Run sweeps every interval until ctx is done. A zero idle timeout disables
// eviction.
func (r *Reaper) Run(ctx context.Context) error {
	if r.idle <= 0 || r.interval <= 0 {
		log.Info().Msg("session reaper disabled")
		<-ctx.Done()
		return nil
	}
	log.Info().Dur("idle", r.idle).Dur("interval", r.interval).Msg("session reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs one eviction pass and returns the evicted session ids.
func (r *Reaper) Sweep() []string {
	evicted := r.store.EvictIdle(r.idle, r.inUse)
	for _, id := range evicted {
		log.Info().Str("sessionId", id).Msg("idle session evicted")
	}
	r.stats.SessionsEvicted.Add(int64(len(evicted)))
	return evicted
}

func (r *Reaper) inUse(g session.GameSession) bool {
	for _, id := range g.ClientIDs() {
		if _, ok := r.registry.Lookup(id); ok {
			return true
		}
	}
	return false
}
