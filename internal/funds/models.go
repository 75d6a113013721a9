package funds

import (
	"gorm.io/gorm"
)

// Lock statuses.
const (
	LockStatusActive   = "ACTIVE"
	LockStatusReleased = "RELEASED"
	LockStatusConsumed = "CONSUMED"
)

// Balance is the spendable holding of one currency for one owner.
type Balance struct {
	gorm.Model `json:"-"`
	OwnerID    string  `gorm:"uniqueIndex:idx_owner_currency" json:"owner_id"`
	Currency   string  `gorm:"uniqueIndex:idx_owner_currency" json:"currency"`
	Available  float64 `json:"available"`
}

// FundLock earmarks funds against an order. Remaining decreases with each
// consumed fill and is returned to the owner's balance on release.
type FundLock struct {
	gorm.Model `json:"-"`
	LockID     string  `gorm:"uniqueIndex" json:"lock_id"`
	OwnerID    string  `gorm:"index" json:"owner_id"`
	Currency   string  `json:"currency"`
	Remaining  float64 `json:"remaining"`
	Status     string  `json:"status"` // ACTIVE, RELEASED, CONSUMED
}
