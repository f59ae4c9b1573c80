package signal

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/metric"
	"duocall/pool"
	"duocall/registry"
)

// minSweepInterval bounds how often the janitor wakes up.
const minSweepInterval = time.Second

// Janitor ends the sessions that waited longer than the TTL for a receiver.
type Janitor struct {
	pool     *pool.Pool
	registry registry.Registry
	metric   *metric.Metrics
	ttl      time.Duration
}

// NewJanitor creates a new Janitor.
func NewJanitor(p *pool.Pool, reg registry.Registry, m *metric.Metrics, ttl time.Duration) *Janitor {
	return &Janitor{
		pool:     p,
		registry: reg,
		metric:   m,
		ttl:      ttl,
	}
}

// Run sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.ttl / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(ctx, now)
		}
	}
}

// Sweep ends the sessions created before now minus the TTL that are still
// waiting, and returns how many it ended. A session joined before the end
// is written keeps running.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) int {
	ended := 0
	for _, expired := range j.pool.PopExpired(now.Add(-j.ttl)) {
		_, err := j.registry.Update(ctx, expired.ID, database.ExpireUpdate(NoAnswerReason))
		switch {
		case errors.Is(err, database.ErrInvalidTransition):
			log.Debug().Str("session_id", expired.ID).Msg("expired session already left waiting")
			continue
		case err != nil:
			log.Warn().Err(err).Str("session_id", expired.ID).Msg("failed to end expired session")
			continue
		}
		ended++
		log.Info().Str("session_id", expired.ID).Str("reason", NoAnswerReason).Msg("session expired")
	}
	j.metric.SetWaitingSessions(j.pool.Len())
	return ended
}
