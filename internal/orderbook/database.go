package orderbook

import (
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

var openStatuses = []string{types.OrderStatusActive, types.OrderStatusPartiallyFilled}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOpenOrders returns resting orders for one pair and side, oldest first.
func (d *Database) GetOpenOrders(pairID, side string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("pair_id = ? AND side = ? AND status IN ?", pairID, side, openStatuses).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}
