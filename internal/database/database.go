package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/access"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/database/migrations"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/funds"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddTradeLedger(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.CurrencyPair{},
		&types.Order{},
		&funds.Balance{},
		&funds.FundLock{},
		&access.CommunityMembership{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
