package exchange

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// fillTolerance absorbs float64 drift when partial fills sum up to the full
// order amount.
const fillTolerance = 1e-9

var openStatuses = []string{types.OrderStatusActive, types.OrderStatusPartiallyFilled}

// Database is the order and trade ledger.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Begin starts a transaction spanning ledger and custodian effects.
func (d *Database) Begin() *gorm.DB {
	return d.db.Begin()
}

func (d *Database) GetPair(pairID string) (*types.CurrencyPair, error) {
	var pair types.CurrencyPair
	if err := d.db.Where("pair_id = ?", pairID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

func (d *Database) CreateOrder(tx *gorm.DB, order *types.Order) error {
	return tx.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	return d.getOrder(d.db, orderID)
}

func (d *Database) getOrder(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateFillProgress atomically increments the order's filled reserve amount
// and recomputes its status. The guard predicate rejects any increment that
// would exceed reserve_amount, which surfaces as an overfill attempt. Returns
// the order as it stands after the update.
func (d *Database) UpdateFillProgress(tx *gorm.DB, orderID string, delta float64) (*types.Order, error) {
	if delta <= 0 {
		return nil, types.NewValidationError("fill delta must be positive, got %f", delta)
	}

	result := tx.Model(&types.Order{}).
		Where("order_id = ? AND status IN ? AND filled_reserve_amount + ? <= reserve_amount + ?",
			orderID, openStatuses, delta, fillTolerance).
		UpdateColumn("filled_reserve_amount", gorm.Expr("filled_reserve_amount + ?", delta))
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		order, err := d.getOrder(tx, orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, types.ErrOrderNotFound
		}
		if !order.IsOpen() {
			return nil, types.ErrOrderNotActive
		}
		return nil, fmt.Errorf("order %s: fill %f over remaining %f: %w",
			orderID, delta, order.RemainingReserve(), types.ErrOverfillAttempt)
	}

	order, err := d.getOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if order.FilledReserveAmount >= order.ReserveAmount-fillTolerance {
		// Snap to exact so status = FILLED holds iff filled equals reserve.
		order.FilledReserveAmount = order.ReserveAmount
		order.Status = types.OrderStatusFilled
		updates["filled_reserve_amount"] = order.ReserveAmount
		updates["status"] = types.OrderStatusFilled
	} else {
		order.Status = types.OrderStatusPartiallyFilled
		updates["status"] = types.OrderStatusPartiallyFilled
	}

	if err := tx.Model(&types.Order{}).Where("order_id = ?", orderID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// MarkTerminal moves an open order to the given terminal status. Returns
// false without error when the order is already terminal, which keeps cancel
// and expiry idempotent.
func (d *Database) MarkTerminal(tx *gorm.DB, orderID, status string) (bool, error) {
	result := tx.Model(&types.Order{}).
		Where("order_id = ? AND status IN ?", orderID, openStatuses).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// QueryOpenByPairSide returns open orders for one pair and side, oldest first.
func (d *Database) QueryOpenByPairSide(pairID, side string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("pair_id = ? AND side = ? AND status IN ?", pairID, side, openStatuses).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// QueryExpired returns open orders whose expiry horizon has passed.
func (d *Database) QueryExpired(now time.Time) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("expires_at <= ? AND status IN ?", now, openStatuses).
		Find(&orders).Error
	return orders, err
}

func (d *Database) CreateTrade(tx *gorm.DB, trade *types.Trade) error {
	return tx.Create(trade).Error
}

// GetTradesByOrder returns all fills recorded against an order.
func (d *Database) GetTradesByOrder(orderID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("order_id = ?", orderID).Order("executed_at ASC").Find(&trades).Error
	return trades, err
}
