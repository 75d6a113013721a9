package funds

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetBalance returns the balance row for owner+currency, or nil if the owner
// has never held the currency.
func (d *Database) GetBalance(tx *gorm.DB, ownerID, currency string) (*Balance, error) {
	var balance Balance
	if err := tx.Where("owner_id = ? AND currency = ?", ownerID, currency).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// AdjustBalance applies a signed delta to the owner's spendable balance,
// creating the row on first credit. The guarded UPDATE refuses a debit that
// would take the balance negative.
func (d *Database) AdjustBalance(tx *gorm.DB, ownerID, currency string, delta float64) error {
	balance, err := d.GetBalance(tx, ownerID, currency)
	if err != nil {
		return err
	}

	if balance == nil {
		if delta < 0 {
			return fmt.Errorf("no %s balance for %s", currency, ownerID)
		}
		return tx.Create(&Balance{OwnerID: ownerID, Currency: currency, Available: delta}).Error
	}

	result := tx.Model(&Balance{}).
		Where("owner_id = ? AND currency = ? AND available + ? >= ?", ownerID, currency, delta, -amountTolerance).
		Update("available", gorm.Expr("available + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("balance update rejected for %s %s", ownerID, currency)
	}
	return nil
}

func (d *Database) CreateLock(tx *gorm.DB, lock *FundLock) error {
	return tx.Create(lock).Error
}

func (d *Database) GetLock(tx *gorm.DB, lockID string) (*FundLock, error) {
	var lock FundLock
	if err := tx.Where("lock_id = ?", lockID).First(&lock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

func (d *Database) UpdateLock(tx *gorm.DB, lock *FundLock) error {
	return tx.Save(lock).Error
}
