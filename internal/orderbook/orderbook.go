package orderbook

import (
	"math"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
	"github.com/ShayanSpiel/fallenempire-sub002/pkg/response"
)

// Service is the order-book read model. It is a pure projection over the
// order ledger: no matching or crossing happens here.
type Service struct {
	db              *Database
	defaultTickSize float64
	maxLevels       int
}

func NewService(gormDB *gorm.DB, defaultTickSize float64, maxLevels int) *Service {
	if defaultTickSize <= 0 {
		defaultTickSize = 0.05
	}
	if maxLevels <= 0 {
		maxLevels = 25
	}
	return &Service{
		db:              NewDatabase(gormDB),
		defaultTickSize: defaultTickSize,
		maxLevels:       maxLevels,
	}
}

// tickIndex maps a rate onto its display level. The rule is round half-up to
// the nearest tick multiple: a rate exactly on a half-tick boundary belongs
// to the higher level.
func tickIndex(rate, tickSize float64) int64 {
	return int64(math.Floor(rate/tickSize + 0.5))
}

// GetAggregatedLevels groups resting orders for (pair, side) into price
// levels rounded to tickSize, best price first. For OFFER_RESERVE the
// cheapest rate for the taker comes first (ascending); for OFFER_LOCAL the
// highest rate comes first (descending). At most limit levels are returned.
func (s *Service) GetAggregatedLevels(pairID, side string, tickSize float64, limit int) ([]types.PriceLevel, error) {
	if side != types.SideOfferReserve && side != types.SideOfferLocal {
		return nil, types.NewValidationError("unknown side %q", side)
	}
	if tickSize <= 0 {
		tickSize = s.defaultTickSize
	}
	if limit <= 0 || limit > s.maxLevels {
		limit = s.maxLevels
	}

	orders, err := s.db.GetOpenOrders(pairID, side)
	if err != nil {
		return nil, err
	}

	byIndex := make(map[int64]*types.PriceLevel)
	for i := range orders {
		order := &orders[i]
		idx := tickIndex(order.Rate(), tickSize)
		level, ok := byIndex[idx]
		if !ok {
			level = &types.PriceLevel{Rate: float64(idx) * tickSize}
			byIndex[idx] = level
		}
		level.TotalRemainingReserve += order.RemainingReserve()
		level.TotalRemainingLocal += order.RemainingLocal()
		level.OrderCount++
	}

	indexes := make([]int64, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	if side == types.SideOfferReserve {
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	} else {
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })
	}
	if len(indexes) > limit {
		indexes = indexes[:limit]
	}

	levels := make([]types.PriceLevel, 0, len(indexes))
	for _, idx := range indexes {
		levels = append(levels, *byIndex[idx])
	}
	return levels, nil
}

// GetOrdersAtLevel returns the individual orders whose rounded rate lands on
// the given level, for UI drill-down.
func (s *Service) GetOrdersAtLevel(pairID string, rate float64, side string, tickSize float64) ([]types.LevelOrder, error) {
	if side != types.SideOfferReserve && side != types.SideOfferLocal {
		return nil, types.NewValidationError("unknown side %q", side)
	}
	if tickSize <= 0 {
		tickSize = s.defaultTickSize
	}

	orders, err := s.db.GetOpenOrders(pairID, side)
	if err != nil {
		return nil, err
	}

	target := tickIndex(rate, tickSize)
	result := make([]types.LevelOrder, 0)
	for i := range orders {
		order := &orders[i]
		if tickIndex(order.Rate(), tickSize) != target {
			continue
		}
		result = append(result, types.LevelOrder{
			OrderID:          order.OrderID,
			MakerID:          order.MakerID,
			RemainingReserve: order.RemainingReserve(),
			RemainingLocal:   order.RemainingLocal(),
			SourceAccount:    order.SourceAccount,
			CreatedAt:        order.CreatedAt,
		})
	}
	return result, nil
}

// GinHandlers contains HTTP handlers for order-book endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetLevelsHandler handles GET requests for aggregated price levels.
// URL parameter: pair_id. Query: side (required), tick, limit.
func (h *GinHandlers) GetLevelsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		side := c.Query("side")
		tickSize, _ := strconv.ParseFloat(c.Query("tick"), 64)
		limit, _ := strconv.Atoi(c.Query("limit"))

		levels, err := h.service.GetAggregatedLevels(c.Param("pair_id"), side, tickSize, limit)
		response.Handle(c, levels, err)
	}
}

// GetLevelOrdersHandler handles GET requests for the orders at one level.
// URL parameter: pair_id. Query: side and rate (required), tick.
func (h *GinHandlers) GetLevelOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		side := c.Query("side")
		rate, err := strconv.ParseFloat(c.Query("rate"), 64)
		if err != nil {
			response.BadRequest(c, "rate query parameter is required")
			return
		}
		tickSize, _ := strconv.ParseFloat(c.Query("tick"), 64)

		orders, err := h.service.GetOrdersAtLevel(c.Param("pair_id"), rate, side, tickSize)
		response.Handle(c, orders, err)
	}
}
