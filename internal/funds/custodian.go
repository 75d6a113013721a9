package funds

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// amountTolerance absorbs float64 drift when a lock is consumed down to zero
// across several partial fills.
const amountTolerance = 1e-9

// Service is the fund custodian. It owns balance and lock lifecycle; the
// matching engine talks to it only through lock/consume/release/transfer.
// Every method takes the caller's transaction handle so that a multi-effect
// settlement commits or rolls back as one unit.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Lock removes amount of currency from the owner's spendable balance and
// earmarks it under a new lock. Fails with ErrInsufficientFunds if the
// spendable balance does not cover the amount.
func (s *Service) Lock(tx *gorm.DB, ownerID, currency string, amount float64) (string, error) {
	if amount <= 0 {
		return "", types.NewValidationError("lock amount must be positive, got %f", amount)
	}

	balance, err := s.db.GetBalance(tx, ownerID, currency)
	if err != nil {
		return "", err
	}
	if balance == nil || balance.Available+amountTolerance < amount {
		return "", fmt.Errorf("locking %f %s for %s: %w", amount, currency, ownerID, types.ErrInsufficientFunds)
	}

	if err := s.db.AdjustBalance(tx, ownerID, currency, -amount); err != nil {
		return "", err
	}

	lock := &FundLock{
		LockID:    "LCK_" + uuid.New().String(),
		OwnerID:   ownerID,
		Currency:  currency,
		Remaining: amount,
		Status:    LockStatusActive,
	}
	if err := s.db.CreateLock(tx, lock); err != nil {
		return "", err
	}

	log.Debug().
		Str("lock_id", lock.LockID).
		Str("owner_id", ownerID).
		Str("currency", currency).
		Float64("amount", amount).
		Msg("funds locked")

	return lock.LockID, nil
}

// Release returns the lock's full remaining amount to the owner's spendable
// balance and invalidates the lock. Releasing a non-active lock is a no-op,
// so a retried cancel or expiry sweep cannot double-credit.
func (s *Service) Release(tx *gorm.DB, lockID string) (float64, error) {
	lock, err := s.db.GetLock(tx, lockID)
	if err != nil {
		return 0, err
	}
	if lock == nil {
		return 0, fmt.Errorf("lock %s not found", lockID)
	}
	if lock.Status != LockStatusActive {
		return 0, nil
	}

	released := lock.Remaining
	if released > 0 {
		if err := s.db.AdjustBalance(tx, lock.OwnerID, lock.Currency, released); err != nil {
			return 0, err
		}
	}

	lock.Remaining = 0
	lock.Status = LockStatusReleased
	if err := s.db.UpdateLock(tx, lock); err != nil {
		return 0, err
	}

	log.Debug().
		Str("lock_id", lockID).
		Float64("released", released).
		Msg("lock released")

	return released, nil
}

// Consume permanently reduces the lock by amount and credits the consumed
// funds back to the owner's spendable balance, where the settlement's
// follow-up transfer moves them to the taker. Fails if amount exceeds what
// remains locked.
func (s *Service) Consume(tx *gorm.DB, lockID string, amount float64) error {
	if amount <= 0 {
		return types.NewValidationError("consume amount must be positive, got %f", amount)
	}

	lock, err := s.db.GetLock(tx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("lock %s not found", lockID)
	}
	if lock.Status != LockStatusActive {
		return fmt.Errorf("lock %s is %s: %w", lockID, lock.Status, types.ErrOverfillAttempt)
	}
	if amount > lock.Remaining+amountTolerance {
		return fmt.Errorf("consume %f exceeds remaining %f on lock %s: %w",
			amount, lock.Remaining, lockID, types.ErrOverfillAttempt)
	}

	if err := s.db.AdjustBalance(tx, lock.OwnerID, lock.Currency, amount); err != nil {
		return err
	}

	lock.Remaining -= amount
	if lock.Remaining <= amountTolerance {
		lock.Remaining = 0
		lock.Status = LockStatusConsumed
	}
	return s.db.UpdateLock(tx, lock)
}

// TransferImmediate moves already-unlocked balance from one owner to another.
func (s *Service) TransferImmediate(tx *gorm.DB, fromID, toID, currency string, amount float64) error {
	if amount <= 0 {
		return types.NewValidationError("transfer amount must be positive, got %f", amount)
	}

	balance, err := s.db.GetBalance(tx, fromID, currency)
	if err != nil {
		return err
	}
	if balance == nil || balance.Available+amountTolerance < amount {
		return fmt.Errorf("transferring %f %s from %s: %w", amount, currency, fromID, types.ErrInsufficientFunds)
	}

	if err := s.db.AdjustBalance(tx, fromID, currency, -amount); err != nil {
		return err
	}
	return s.db.AdjustBalance(tx, toID, currency, amount)
}

// Deposit credits newly issued funds to an owner. Used by seeding and tests;
// the exchange core itself never mints.
func (s *Service) Deposit(ownerID, currency string, amount float64) error {
	if amount <= 0 {
		return types.NewValidationError("deposit amount must be positive, got %f", amount)
	}
	return s.db.AdjustBalance(s.db.db, ownerID, currency, amount)
}

// SpendableBalance returns the owner's current spendable amount of currency.
func (s *Service) SpendableBalance(ownerID, currency string) (float64, error) {
	balance, err := s.db.GetBalance(s.db.db, ownerID, currency)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Available, nil
}

// LockedBalance returns the total still held under active locks for the owner.
func (s *Service) LockedBalance(ownerID, currency string) (float64, error) {
	var total float64
	err := s.db.db.Model(&FundLock{}).
		Where("owner_id = ? AND currency = ? AND status = ?", ownerID, currency, LockStatusActive).
		Select("COALESCE(SUM(remaining), 0)").
		Scan(&total).Error
	return total, err
}
