package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides: which leg the maker is giving up.
const (
	SideOfferReserve = "OFFER_RESERVE"
	SideOfferLocal   = "OFFER_LOCAL"
)

// Order statuses. FILLED, CANCELLED and EXPIRED are terminal.
const (
	OrderStatusActive          = "ACTIVE"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusExpired         = "EXPIRED"
)

// Source accounts an order can be funded from.
const (
	SourcePersonal = "PERSONAL"
	SourceTreasury = "TREASURY"
)

// CurrencyPair defines a tradeable reserve/local currency pair for a community.
type CurrencyPair struct {
	gorm.Model      `json:"-"`
	PairID          string `gorm:"uniqueIndex" json:"pair_id"`
	CommunityID     string `gorm:"index" json:"community_id"`
	ReserveCurrency string `json:"reserve_currency"`
	LocalCurrency   string `json:"local_currency"`
	Active          bool   `json:"active"`
}

// Order is a resting offer to trade reserve currency against a local currency.
// The rate (local per reserve) is fixed at creation and never changes.
type Order struct {
	gorm.Model          `json:"-"`
	OrderID             string    `gorm:"uniqueIndex" json:"order_id"`
	MakerID             string    `gorm:"index" json:"maker_id"`
	PairID              string    `gorm:"index" json:"pair_id"`
	Side                string    `json:"side"` // OFFER_RESERVE or OFFER_LOCAL
	ReserveAmount       float64   `json:"reserve_amount"`
	LocalAmount         float64   `json:"local_amount"`
	FilledReserveAmount float64   `json:"filled_reserve_amount"`
	Status              string    `gorm:"index" json:"status"`
	SourceAccount       string    `json:"source_account"` // PERSONAL or TREASURY
	LockID              string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `gorm:"index" json:"expires_at"`
}

// Rate returns the fixed exchange rate in local units per reserve unit.
func (o *Order) Rate() float64 {
	return o.LocalAmount / o.ReserveAmount
}

// RemainingReserve returns the unfilled reserve amount.
func (o *Order) RemainingReserve() float64 {
	return o.ReserveAmount - o.FilledReserveAmount
}

// RemainingLocal returns the local-currency value of the unfilled amount.
func (o *Order) RemainingLocal() float64 {
	return o.RemainingReserve() * o.Rate()
}

// IsOpen reports whether the order can still be accepted, cancelled or expired.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusActive || o.Status == OrderStatusPartiallyFilled
}

// Trade is the append-only record of a single fill against an order.
// Rows are never mutated or deleted once written.
type Trade struct {
	gorm.Model    `json:"-"`
	TradeID       string    `gorm:"uniqueIndex" json:"trade_id"`
	OrderID       string    `gorm:"index" json:"order_id"`
	PairID        string    `gorm:"index" json:"pair_id"`
	MakerID       string    `json:"maker_id"`
	TakerID       string    `json:"taker_id"`
	ReserveAmount float64   `json:"reserve_amount"`
	LocalAmount   float64   `json:"local_amount"`
	Rate          float64   `json:"rate"`
	ExecutedAt    time.Time `gorm:"index" json:"executed_at"`
}

// RateSnapshot is an OHLC candle for one pair and period, keyed by
// (pair_id, period_start). Regeneration over the same trade set is a no-op.
type RateSnapshot struct {
	gorm.Model    `json:"-"`
	PairID        string    `gorm:"uniqueIndex:idx_pair_period" json:"pair_id"`
	PeriodStart   time.Time `gorm:"uniqueIndex:idx_pair_period" json:"period_start"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	VolumeReserve float64   `json:"volume_reserve"`
	VolumeLocal   float64   `json:"volume_local"`
	TradeCount    int64     `json:"trade_count"`
}
