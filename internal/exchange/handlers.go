package exchange

import (
	"github.com/gin-gonic/gin"

	"github.com/ShayanSpiel/fallenempire-sub002/pkg/response"
)

// GinHandlers contains HTTP handlers for order lifecycle endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createOrderRequest struct {
	PairID        string  `json:"pair_id" binding:"required"`
	Side          string  `json:"side" binding:"required"`
	OfferedAmount float64 `json:"offered_amount" binding:"required"`
	DesiredAmount float64 `json:"desired_amount" binding:"required"`
	SourceAccount string  `json:"source_account"`
}

type acceptOrderRequest struct {
	ReserveAmount float64 `json:"reserve_amount" binding:"required"`
}

// CreateOrderHandler handles POST requests to place a resting order.
// The maker is taken from the authenticated citizen.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		citizenID := c.GetString("citizenID")
		if citizenID == "" {
			response.Unauthorized(c, "Missing citizen identity")
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(citizenID, req.PairID, req.Side,
			req.OfferedAmount, req.DesiredAmount, req.SourceAccount)
		response.Handle(c, order, err)
	}
}

// AcceptOrderHandler handles POST requests to accept part or all of a
// resting order. URL parameter: order_id.
func (h *GinHandlers) AcceptOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		citizenID := c.GetString("citizenID")
		if citizenID == "" {
			response.Unauthorized(c, "Missing citizen identity")
			return
		}

		var req acceptOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.AcceptOrder(citizenID, c.Param("order_id"), req.ReserveAmount)
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel a resting order.
// URL parameter: order_id.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		citizenID := c.GetString("citizenID")
		if citizenID == "" {
			response.Unauthorized(c, "Missing citizen identity")
			return
		}

		released, err := h.service.CancelOrder(citizenID, c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"released": true, "released_amount": released})
	}
}

// GetOrderHandler handles GET requests for a single order's state.
// URL parameter: order_id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, order)
	}
}
