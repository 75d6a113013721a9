package rates

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetTradesInPeriod returns trades for a pair executed in [start, end),
// oldest first so open/close fall out of the ordering.
func (d *Database) GetTradesInPeriod(pairID string, start, end time.Time) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("pair_id = ? AND executed_at >= ? AND executed_at < ?", pairID, start, end).
		Order("executed_at ASC").
		Find(&trades).Error
	return trades, err
}

// GetSnapshot returns the snapshot for (pair, periodStart), or nil.
func (d *Database) GetSnapshot(pairID string, periodStart time.Time) (*types.RateSnapshot, error) {
	var snapshot types.RateSnapshot
	if err := d.db.Where("pair_id = ? AND period_start = ?", pairID, periodStart).First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// GetPreviousSnapshot returns the latest snapshot strictly before periodStart.
func (d *Database) GetPreviousSnapshot(pairID string, periodStart time.Time) (*types.RateSnapshot, error) {
	var snapshot types.RateSnapshot
	err := d.db.Where("pair_id = ? AND period_start < ?", pairID, periodStart).
		Order("period_start DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// UpsertSnapshot writes the snapshot keyed by (pair, period_start). An
// existing row is updated in place so regeneration is idempotent.
func (d *Database) UpsertSnapshot(snapshot *types.RateSnapshot) error {
	existing, err := d.GetSnapshot(snapshot.PairID, snapshot.PeriodStart)
	if err != nil {
		return err
	}
	if existing == nil {
		return d.db.Create(snapshot).Error
	}

	return d.db.Model(&types.RateSnapshot{}).
		Where("pair_id = ? AND period_start = ?", snapshot.PairID, snapshot.PeriodStart).
		Updates(map[string]interface{}{
			"open":           snapshot.Open,
			"high":           snapshot.High,
			"low":            snapshot.Low,
			"close":          snapshot.Close,
			"volume_reserve": snapshot.VolumeReserve,
			"volume_local":   snapshot.VolumeLocal,
			"trade_count":    snapshot.TradeCount,
		}).Error
}

// GetHistory returns the most recent periodCount snapshots, newest first.
func (d *Database) GetHistory(pairID string, periodCount int) ([]types.RateSnapshot, error) {
	var snapshots []types.RateSnapshot
	err := d.db.Where("pair_id = ?", pairID).
		Order("period_start DESC").
		Limit(periodCount).
		Find(&snapshots).Error
	return snapshots, err
}

// GetActivePairs returns every pair snapshots should be generated for.
func (d *Database) GetActivePairs() ([]types.CurrencyPair, error) {
	var pairs []types.CurrencyPair
	err := d.db.Where("active = ?", true).Find(&pairs).Error
	return pairs, err
}
