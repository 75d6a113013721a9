package exchange

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// FundCustodian is the balance and lock lifecycle contract the engine
// settles through. Methods take the engine's transaction handle so the
// two-leg swap commits or rolls back as one unit.
type FundCustodian interface {
	Lock(tx *gorm.DB, ownerID, currency string, amount float64) (string, error)
	Release(tx *gorm.DB, lockID string) (float64, error)
	Consume(tx *gorm.DB, lockID string, amount float64) error
	TransferImmediate(tx *gorm.DB, fromID, toID, currency string, amount float64) error
}

// AccessPolicy resolves whether a citizen may trade a pair. Consulted at
// both order creation and acceptance.
type AccessPolicy interface {
	CanTrade(citizenID, pairID string) (bool, error)
}

// Options tunes engine behavior; zero values fall back to defaults.
type Options struct {
	OrderExpiry      time.Duration // resting horizon for new orders
	AcceptRetries    int           // bounded retries on transient store contention
	AcceptRetryDelay time.Duration
}

// Service is the matching engine: it owns order lifecycle (create, accept,
// cancel, expire) and the atomic settlement sequence.
type Service struct {
	db         *Database
	custodian  FundCustodian
	access     AccessPolicy
	expiry     time.Duration
	retries    int
	retryDelay time.Duration
	locks      *orderLocks
}

func NewService(gormDB *gorm.DB, custodian FundCustodian, policy AccessPolicy, opts Options) *Service {
	if opts.OrderExpiry <= 0 {
		opts.OrderExpiry = 30 * 24 * time.Hour
	}
	if opts.AcceptRetries <= 0 {
		opts.AcceptRetries = 3
	}
	if opts.AcceptRetryDelay <= 0 {
		opts.AcceptRetryDelay = 25 * time.Millisecond
	}
	return &Service{
		db:         NewDatabase(gormDB),
		custodian:  custodian,
		access:     policy,
		expiry:     opts.OrderExpiry,
		retries:    opts.AcceptRetries,
		retryDelay: opts.AcceptRetryDelay,
		locks:      newOrderLocks(),
	}
}

// CreateOrder validates the request, locks the maker's offered leg and
// inserts the resting order. Lock and insert share one transaction, so a
// failed insert leaves no trace of the lock.
func (s *Service) CreateOrder(makerID, pairID, side string, offeredAmount, desiredAmount float64, sourceAccount string) (*types.Order, error) {
	logger := log.With().
		Str("maker_id", makerID).
		Str("pair_id", pairID).
		Str("side", side).
		Str("service", "exchange").
		Logger()

	if offeredAmount <= 0 || desiredAmount <= 0 {
		return nil, types.NewValidationError("amounts must be positive, got offered=%f desired=%f", offeredAmount, desiredAmount)
	}
	if side != types.SideOfferReserve && side != types.SideOfferLocal {
		return nil, types.NewValidationError("unknown side %q", side)
	}
	if sourceAccount == "" {
		sourceAccount = types.SourcePersonal
	}
	if sourceAccount != types.SourcePersonal && sourceAccount != types.SourceTreasury {
		return nil, types.NewValidationError("unknown source account %q", sourceAccount)
	}

	pair, err := s.db.GetPair(pairID)
	if err != nil {
		return nil, err
	}
	if pair == nil || !pair.Active {
		return nil, types.NewValidationError("currency pair %s is unknown or inactive", pairID)
	}

	allowed, err := s.access.CanTrade(makerID, pairID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, types.ErrLocationRestricted
	}

	var reserveAmount, localAmount float64
	var offeredCurrency string
	if side == types.SideOfferReserve {
		reserveAmount = offeredAmount
		localAmount = desiredAmount
		offeredCurrency = pair.ReserveCurrency
	} else {
		reserveAmount = desiredAmount
		localAmount = offeredAmount
		offeredCurrency = pair.LocalCurrency
	}

	now := time.Now()
	order := &types.Order{
		OrderID:       "ORD_" + uuid.New().String(),
		MakerID:       makerID,
		PairID:        pairID,
		Side:          side,
		ReserveAmount: reserveAmount,
		LocalAmount:   localAmount,
		Status:        types.OrderStatusActive,
		SourceAccount: sourceAccount,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.expiry),
	}

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	lockID, err := s.custodian.Lock(tx, makerID, offeredCurrency, offeredAmount)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	order.LockID = lockID

	if err := s.db.CreateOrder(tx, order); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Float64("reserve_amount", reserveAmount).
		Float64("local_amount", localAmount).
		Float64("rate", order.Rate()).
		Time("expires_at", order.ExpiresAt).
		Msg("order created")

	return order, nil
}

// AcceptOrder fills part or all of a resting order's remaining amount on
// behalf of the taker. Requests beyond the remaining amount are clamped, not
// rejected. The whole settlement runs under the order's writer lock with
// bounded retries on transient contention.
func (s *Service) AcceptOrder(takerID, orderID string, reserveAmountToAccept float64) (*types.AcceptResult, error) {
	if reserveAmountToAccept <= 0 {
		return nil, types.NewValidationError("accept amount must be positive, got %f", reserveAmountToAccept)
	}

	release := s.locks.acquire(orderID)
	defer release()

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		result, err := s.settleAccept(takerID, orderID, reserveAmountToAccept)
		if err == nil || !isTransient(err) {
			return result, err
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("order_id", orderID).
			Int("attempt", attempt+1).
			Msg("transient conflict during settlement, retrying")
		time.Sleep(s.retryDelay)
	}

	return nil, fmt.Errorf("%w: %v", types.ErrConcurrencyConflict, lastErr)
}

// settleAccept runs one settlement attempt: eligibility checks, then the
// five-effect atomic unit (consume lock, two transfers, fill progress, trade
// insert) in a single transaction.
func (s *Service) settleAccept(takerID, orderID string, reserveAmountToAccept float64) (*types.AcceptResult, error) {
	logger := log.With().
		Str("taker_id", takerID).
		Str("order_id", orderID).
		Str("service", "exchange").
		Logger()

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	if !order.IsOpen() {
		return nil, types.ErrOrderNotActive
	}
	if order.MakerID == takerID {
		return nil, types.ErrSelfTradeNotAllowed
	}

	allowed, err := s.access.CanTrade(takerID, order.PairID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, types.ErrLocationRestricted
	}

	pair, err := s.db.GetPair(order.PairID)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, types.NewValidationError("currency pair %s is unknown", order.PairID)
	}

	// Accepting more than remains is not an error: take whatever is left.
	actualFill := math.Min(reserveAmountToAccept, order.RemainingReserve())
	localForFill := actualFill * order.Rate()

	// The maker gives up the offered leg out of the lock; the taker pays the
	// wanted leg from spendable balance.
	var consumedFromLock, takerPays float64
	var offeredCurrency, wantedCurrency string
	if order.Side == types.SideOfferReserve {
		offeredCurrency = pair.ReserveCurrency
		wantedCurrency = pair.LocalCurrency
		consumedFromLock = actualFill
		takerPays = localForFill
	} else {
		offeredCurrency = pair.LocalCurrency
		wantedCurrency = pair.ReserveCurrency
		consumedFromLock = localForFill
		takerPays = actualFill
	}

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := s.custodian.Consume(tx, order.LockID, consumedFromLock); err != nil {
		tx.Rollback()
		if errors.Is(err, types.ErrOverfillAttempt) {
			logger.Error().Err(err).Msg("CRITICAL: lock consumption would overfill, settlement aborted")
		}
		return nil, err
	}

	if err := s.custodian.TransferImmediate(tx, takerID, order.MakerID, wantedCurrency, takerPays); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.custodian.TransferImmediate(tx, order.MakerID, takerID, offeredCurrency, consumedFromLock); err != nil {
		tx.Rollback()
		return nil, err
	}

	updated, err := s.db.UpdateFillProgress(tx, orderID, actualFill)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, types.ErrOverfillAttempt) {
			logger.Error().Err(err).Msg("CRITICAL: fill progress would overfill, settlement aborted")
		}
		return nil, err
	}

	trade := &types.Trade{
		TradeID:       "TRD_" + uuid.New().String(),
		OrderID:       order.OrderID,
		PairID:        order.PairID,
		MakerID:       order.MakerID,
		TakerID:       takerID,
		ReserveAmount: actualFill,
		LocalAmount:   localForFill,
		Rate:          order.Rate(),
		ExecutedAt:    time.Now(),
	}
	if err := s.db.CreateTrade(tx, trade); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Float64("filled_reserve", actualFill).
		Float64("filled_local", localForFill).
		Str("order_status", updated.Status).
		Msg("order accepted")

	return &types.AcceptResult{
		TradeID:             trade.TradeID,
		OrderID:             order.OrderID,
		FilledReserveAmount: actualFill,
		FilledLocalAmount:   localForFill,
		Rate:                trade.Rate,
		OrderStatus:         updated.Status,
	}, nil
}

// CancelOrder returns the remaining lock to the maker and moves the order to
// CANCELLED. Only the maker may cancel.
func (s *Service) CancelOrder(ownerID, orderID string) (float64, error) {
	release := s.locks.acquire(orderID)
	defer release()

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return 0, err
	}
	if order == nil {
		return 0, types.ErrOrderNotFound
	}
	if order.MakerID != ownerID {
		return 0, types.ErrUnauthorized
	}
	if !order.IsOpen() {
		return 0, types.ErrOrderNotActive
	}

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	changed, err := s.db.MarkTerminal(tx, orderID, types.OrderStatusCancelled)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if !changed {
		tx.Rollback()
		return 0, types.ErrOrderNotActive
	}

	released, err := s.custodian.Release(tx, order.LockID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("maker_id", ownerID).
		Float64("released", released).
		Msg("order cancelled")

	return released, nil
}

// GetOrder loads a single order.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// ExpireOrders sweeps every open order whose expiry horizon has passed,
// releasing its remaining lock and marking it EXPIRED. Each order is its own
// transaction; one failure does not block the rest. Safe to re-run: orders
// already terminal are skipped.
func (s *Service) ExpireOrders(now time.Time) (int, error) {
	due, err := s.db.QueryExpired(now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		if err := s.expireOne(&due[i]); err != nil {
			log.Error().
				Err(err).
				Str("order_id", due[i].OrderID).
				Msg("failed to expire order")
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Int("due", len(due)).Msg("expiry sweep completed")
	}
	return expired, nil
}

func (s *Service) expireOne(order *types.Order) error {
	release := s.locks.acquire(order.OrderID)
	defer release()

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	changed, err := s.db.MarkTerminal(tx, order.OrderID, types.OrderStatusExpired)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !changed {
		// Raced with an accept or cancel that committed first.
		tx.Rollback()
		return nil
	}

	if _, err := s.custodian.Release(tx, order.LockID); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// isTransient reports whether the error is store contention worth retrying.
// SQLite surfaces writer conflicts as busy/locked errors.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
