package migrations

import (
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

func AddTradeLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Trade{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.RateSnapshot{}); err != nil {
		return err
	}

	return nil
}
