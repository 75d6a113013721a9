package rates

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler generates snapshots at each period boundary. Each tick
// regenerates the period that just closed, so a duplicate or late run
// produces the same rows it would have the first time.
type Scheduler struct {
	service *Service
}

func NewScheduler(service *Service) *Scheduler {
	return &Scheduler{service: service}
}

// Start runs the snapshot loop until the context is cancelled. The first
// tick is aligned to the next period boundary.
func (p *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "snapshot_scheduler").Logger()
	period := p.service.Period()
	logger.Info().Dur("period", period).Msg("starting snapshot scheduler")

	// Wait out the remainder of the current period so ticks land on
	// boundaries.
	now := time.Now()
	next := now.Truncate(period).Add(period)
	select {
	case <-ctx.Done():
		return
	case <-time.After(next.Sub(now)):
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		periodStart := time.Now().Truncate(period).Add(-period)
		if err := p.service.GenerateAll(periodStart); err != nil {
			logger.Error().Err(err).Msg("snapshot generation pass failed")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down snapshot scheduler")
			return
		case <-ticker.C:
		}
	}
}
