package rates

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
	"github.com/ShayanSpiel/fallenempire-sub002/pkg/response"
)

// Service generates OHLC rate snapshots from the trade ledger and serves
// rate history.
type Service struct {
	db     *Database
	period time.Duration
}

func NewService(gormDB *gorm.DB, period time.Duration) *Service {
	if period <= 0 {
		period = time.Hour
	}
	return &Service{
		db:     NewDatabase(gormDB),
		period: period,
	}
}

// Period returns the snapshot period length.
func (s *Service) Period() time.Duration {
	return s.period
}

// GenerateSnapshot builds the OHLC candle for one pair over [periodStart,
// periodEnd). An empty period carries the previous close forward with zero
// volumes; with no prior snapshot either, nothing is written. Re-invoking
// over the same trade set leaves an identical row.
func (s *Service) GenerateSnapshot(pairID string, periodStart, periodEnd time.Time) (*types.RateSnapshot, error) {
	logger := log.With().
		Str("pair_id", pairID).
		Time("period_start", periodStart).
		Str("service", "rates").
		Logger()

	trades, err := s.db.GetTradesInPeriod(pairID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	snapshot := &types.RateSnapshot{
		PairID:      pairID,
		PeriodStart: periodStart,
	}

	if len(trades) == 0 {
		previous, err := s.db.GetPreviousSnapshot(pairID, periodStart)
		if err != nil {
			return nil, err
		}
		if previous == nil {
			logger.Debug().Msg("no trades and no prior snapshot, skipping period")
			return nil, nil
		}
		snapshot.Open = previous.Close
		snapshot.High = previous.Close
		snapshot.Low = previous.Close
		snapshot.Close = previous.Close
	} else {
		snapshot.Open = trades[0].Rate
		snapshot.Close = trades[len(trades)-1].Rate
		snapshot.High = trades[0].Rate
		snapshot.Low = trades[0].Rate
		for _, trade := range trades {
			if trade.Rate > snapshot.High {
				snapshot.High = trade.Rate
			}
			if trade.Rate < snapshot.Low {
				snapshot.Low = trade.Rate
			}
			snapshot.VolumeReserve += trade.ReserveAmount
			snapshot.VolumeLocal += trade.LocalAmount
		}
		snapshot.TradeCount = int64(len(trades))
	}

	if err := s.db.UpsertSnapshot(snapshot); err != nil {
		return nil, err
	}

	logger.Debug().
		Float64("open", snapshot.Open).
		Float64("close", snapshot.Close).
		Int64("trade_count", snapshot.TradeCount).
		Msg("rate snapshot generated")

	return snapshot, nil
}

// GenerateAll builds the snapshot ending at periodStart+period for every
// active pair. Failures on one pair do not block the rest.
func (s *Service) GenerateAll(periodStart time.Time) error {
	pairs, err := s.db.GetActivePairs()
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		if _, err := s.GenerateSnapshot(pair.PairID, periodStart, periodStart.Add(s.period)); err != nil {
			log.Error().
				Err(err).
				Str("pair_id", pair.PairID).
				Time("period_start", periodStart).
				Msg("failed to generate rate snapshot")
		}
	}
	return nil
}

// GetRateHistory returns the most recent periodCount snapshots, newest first.
func (s *Service) GetRateHistory(pairID string, periodCount int) ([]types.RateSnapshot, error) {
	if periodCount <= 0 {
		periodCount = 24
	}
	return s.db.GetHistory(pairID, periodCount)
}

// GinHandlers contains HTTP handlers for rate history endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetRateHistoryHandler handles GET requests for a pair's OHLC history.
// URL parameter: pair_id. Query: periods.
func (h *GinHandlers) GetRateHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		periods, _ := strconv.Atoi(c.Query("periods"))

		history, err := h.service.GetRateHistory(c.Param("pair_id"), periods)
		response.Handle(c, history, err)
	}
}
