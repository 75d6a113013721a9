package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically expires orders whose horizon has passed. Duplicate or
// missed runs are harmless: ExpireOrders only touches orders still open.
type Sweeper struct {
	service  *Service
	interval time.Duration
}

func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		service:  service,
		interval: interval,
	}
}

// Start begins the sweep loop until the context is cancelled.
func (p *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiry_sweeper").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting expiry sweeper")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down expiry sweeper")
			return
		case <-ticker.C:
			if _, err := p.service.ExpireOrders(time.Now()); err != nil {
				logger.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}
