package types

import "time"

// AcceptResult is returned from a successful order acceptance.
type AcceptResult struct {
	TradeID             string  `json:"trade_id"`
	OrderID             string  `json:"order_id"`
	FilledReserveAmount float64 `json:"filled_reserve_amount"`
	FilledLocalAmount   float64 `json:"filled_local_amount"`
	Rate                float64 `json:"rate"`
	OrderStatus         string  `json:"order_status"`
}

// PriceLevel is one aggregated order-book level for display.
type PriceLevel struct {
	Rate                  float64 `json:"rate"`
	TotalRemainingReserve float64 `json:"total_remaining_reserve"`
	TotalRemainingLocal   float64 `json:"total_remaining_local"`
	OrderCount            int     `json:"order_count"`
}

// LevelOrder is a single order shown when drilling into a price level.
type LevelOrder struct {
	OrderID          string    `json:"order_id"`
	MakerID          string    `json:"maker_id"`
	RemainingReserve float64   `json:"remaining_reserve"`
	RemainingLocal   float64   `json:"remaining_local"`
	SourceAccount    string    `json:"source_account"`
	CreatedAt        time.Time `json:"created_at"`
}
