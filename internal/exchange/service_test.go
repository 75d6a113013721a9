package exchange

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/access"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/database"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/funds"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

const (
	testPair      = "PAIR_TEST"
	testCommunity = "COM_TEST"
	reserveCcy    = "GOLD"
	localCcy      = "MARK"
)

type testWorld struct {
	engine    *Service
	custodian *funds.Service
	db        *gorm.DB
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	custodian := funds.NewService(db)
	policy := access.NewService(db)
	engine := NewService(db, custodian, policy, Options{OrderExpiry: time.Hour})

	pair := &types.CurrencyPair{
		PairID:          testPair,
		CommunityID:     testCommunity,
		ReserveCurrency: reserveCcy,
		LocalCurrency:   localCcy,
		Active:          true,
	}
	if err := db.Create(pair).Error; err != nil {
		t.Fatalf("failed to seed pair: %v", err)
	}

	for _, citizenID := range []string{"maker", "taker", "other"} {
		if err := policy.AddMember(citizenID, testCommunity); err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
		if err := custodian.Deposit(citizenID, reserveCcy, 1000); err != nil {
			t.Fatalf("failed to seed gold: %v", err)
		}
		if err := custodian.Deposit(citizenID, localCcy, 5000); err != nil {
			t.Fatalf("failed to seed local currency: %v", err)
		}
	}

	return &testWorld{engine: engine, custodian: custodian, db: db}
}

func (w *testWorld) spendable(t *testing.T, ownerID, currency string) float64 {
	t.Helper()
	amount, err := w.custodian.SpendableBalance(ownerID, currency)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return amount
}

func (w *testWorld) locked(t *testing.T, ownerID, currency string) float64 {
	t.Helper()
	amount, err := w.custodian.LockedBalance(ownerID, currency)
	if err != nil {
		t.Fatalf("failed to read locked balance: %v", err)
	}
	return amount
}

func almostEqual(a, b float64) bool {
	diff := a - b
	return diff < 1e-6 && diff > -1e-6
}

func TestCreateOrderLocksOfferedFunds(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, types.SourcePersonal)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if order.Status != types.OrderStatusActive {
		t.Errorf("expected ACTIVE, got %s", order.Status)
	}
	if !almostEqual(order.Rate(), 5.0) {
		t.Errorf("expected rate 5.0, got %f", order.Rate())
	}
	if got := w.spendable(t, "maker", reserveCcy); !almostEqual(got, 900) {
		t.Errorf("expected spendable 900 after lock, got %f", got)
	}
	if got := w.locked(t, "maker", reserveCcy); !almostEqual(got, 100) {
		t.Errorf("expected locked 100, got %f", got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	w := newTestWorld(t)

	var validationErr *types.ValidationError

	_, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, -5, 500, "")
	if !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for negative amount, got %v", err)
	}

	_, err = w.engine.CreateOrder("maker", "PAIR_NOPE", types.SideOfferReserve, 100, 500, "")
	if !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for unknown pair, got %v", err)
	}

	_, err = w.engine.CreateOrder("maker", testPair, "SIDEWAYS", 100, 500, "")
	if !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for unknown side, got %v", err)
	}

	_, err = w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100000, 500, "")
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds, got %v", err)
	}

	_, err = w.engine.CreateOrder("stranger", testPair, types.SideOfferReserve, 100, 500, "")
	if !errors.Is(err, types.ErrLocationRestricted) {
		t.Errorf("expected location restricted for non-member, got %v", err)
	}
}

// Maker locks 100 reserve at rate 5 (wants 500 local), taker accepts 40:
// the trade must carry 40 reserve and 200 local, leaving 60 remaining.
func TestPartialAcceptSettlesBothLegs(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	result, err := w.engine.AcceptOrder("taker", order.OrderID, 40)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	if !almostEqual(result.FilledReserveAmount, 40) {
		t.Errorf("expected filled reserve 40, got %f", result.FilledReserveAmount)
	}
	if !almostEqual(result.FilledLocalAmount, 200) {
		t.Errorf("expected filled local 200, got %f", result.FilledLocalAmount)
	}
	if result.OrderStatus != types.OrderStatusPartiallyFilled {
		t.Errorf("expected PARTIALLY_FILLED, got %s", result.OrderStatus)
	}

	updated, err := w.engine.GetOrder(order.OrderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if !almostEqual(updated.RemainingReserve(), 60) {
		t.Errorf("expected remaining 60, got %f", updated.RemainingReserve())
	}

	// Two-leg settlement: maker got 200 local, taker got 40 reserve.
	if got := w.spendable(t, "maker", localCcy); !almostEqual(got, 5200) {
		t.Errorf("expected maker local 5200, got %f", got)
	}
	if got := w.spendable(t, "taker", reserveCcy); !almostEqual(got, 1040) {
		t.Errorf("expected taker reserve 1040, got %f", got)
	}
	if got := w.spendable(t, "taker", localCcy); !almostEqual(got, 4800) {
		t.Errorf("expected taker local 4800, got %f", got)
	}
	if got := w.locked(t, "maker", reserveCcy); !almostEqual(got, 60) {
		t.Errorf("expected maker lock down to 60, got %f", got)
	}
}

func TestAcceptOfferLocalSide(t *testing.T) {
	w := newTestWorld(t)

	// Maker offers 500 local, wants 100 reserve (rate 5).
	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferLocal, 500, 100, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if got := w.locked(t, "maker", localCcy); !almostEqual(got, 500) {
		t.Fatalf("expected local lock 500, got %f", got)
	}

	result, err := w.engine.AcceptOrder("taker", order.OrderID, 20)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !almostEqual(result.FilledLocalAmount, 100) {
		t.Errorf("expected filled local 100, got %f", result.FilledLocalAmount)
	}

	// Taker paid 20 reserve and received 100 local.
	if got := w.spendable(t, "taker", reserveCcy); !almostEqual(got, 980) {
		t.Errorf("expected taker reserve 980, got %f", got)
	}
	if got := w.spendable(t, "taker", localCcy); !almostEqual(got, 5100) {
		t.Errorf("expected taker local 5100, got %f", got)
	}
	if got := w.spendable(t, "maker", reserveCcy); !almostEqual(got, 1020) {
		t.Errorf("expected maker reserve 1020, got %f", got)
	}
}

// Accepting more than remains is clamped, not rejected.
func TestAcceptClampsToRemaining(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	result, err := w.engine.AcceptOrder("taker", order.OrderID, 250)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !almostEqual(result.FilledReserveAmount, 100) {
		t.Errorf("expected clamp to 100, got %f", result.FilledReserveAmount)
	}
	if result.OrderStatus != types.OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", result.OrderStatus)
	}
	if got := w.locked(t, "maker", reserveCcy); !almostEqual(got, 0) {
		t.Errorf("expected lock fully consumed, got %f", got)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.FilledReserveAmount != updated.ReserveAmount {
		t.Errorf("FILLED order must have filled == reserve, got %f vs %f",
			updated.FilledReserveAmount, updated.ReserveAmount)
	}
}

func TestSelfTradeRejectedWithoutStateChange(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = w.engine.AcceptOrder("maker", order.OrderID, 10)
	if !errors.Is(err, types.ErrSelfTradeNotAllowed) {
		t.Fatalf("expected self-trade rejection, got %v", err)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.FilledReserveAmount != 0 || updated.Status != types.OrderStatusActive {
		t.Errorf("self-trade attempt changed state: filled=%f status=%s",
			updated.FilledReserveAmount, updated.Status)
	}
	if got := w.spendable(t, "maker", localCcy); !almostEqual(got, 5000) {
		t.Errorf("self-trade attempt moved funds: %f", got)
	}
}

func TestAcceptTerminalOrderFails(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 50, 250, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := w.engine.AcceptOrder("taker", order.OrderID, 50); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	takerReserveBefore := w.spendable(t, "taker", reserveCcy)

	_, err = w.engine.AcceptOrder("other", order.OrderID, 10)
	if !errors.Is(err, types.ErrOrderNotActive) {
		t.Fatalf("expected order-not-active, got %v", err)
	}
	if got := w.spendable(t, "taker", reserveCcy); !almostEqual(got, takerReserveBefore) {
		t.Errorf("rejected accept moved funds")
	}

	_, err = w.engine.AcceptOrder("taker", "ORD_missing", 10)
	if !errors.Is(err, types.ErrOrderNotFound) {
		t.Fatalf("expected order-not-found, got %v", err)
	}
}

func TestAcceptNonMemberRestricted(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if err := w.custodian.Deposit("outsider", localCcy, 5000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	_, err = w.engine.AcceptOrder("outsider", order.OrderID, 10)
	if !errors.Is(err, types.ErrLocationRestricted) {
		t.Fatalf("expected location restricted, got %v", err)
	}
}

// Cancel must return exactly the remaining lock: locked + spendable for the
// maker is unchanged by the cancel itself.
func TestCancelConservesFunds(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := w.engine.AcceptOrder("taker", order.OrderID, 40); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	totalBefore := w.spendable(t, "maker", reserveCcy) + w.locked(t, "maker", reserveCcy)

	released, err := w.engine.CancelOrder("maker", order.OrderID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !almostEqual(released, 60) {
		t.Errorf("expected release of 60, got %f", released)
	}

	totalAfter := w.spendable(t, "maker", reserveCcy) + w.locked(t, "maker", reserveCcy)
	if !almostEqual(totalBefore, totalAfter) {
		t.Errorf("cancel leaked funds: before=%f after=%f", totalBefore, totalAfter)
	}
	if got := w.locked(t, "maker", reserveCcy); !almostEqual(got, 0) {
		t.Errorf("expected no remaining lock, got %f", got)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.Status != types.OrderStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", updated.Status)
	}

	// Terminal state: a second cancel must fail and change nothing.
	if _, err := w.engine.CancelOrder("maker", order.OrderID); !errors.Is(err, types.ErrOrderNotActive) {
		t.Errorf("expected order-not-active on double cancel, got %v", err)
	}
}

func TestCancelByNonMakerUnauthorized(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := w.engine.CancelOrder("other", order.OrderID); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.Status != types.OrderStatusActive {
		t.Errorf("unauthorized cancel changed status to %s", updated.Status)
	}
}

// Sweeping twice in succession must yield the same end state as sweeping
// once: the second pass sees only terminal orders and releases nothing.
func TestExpireOrdersIdempotent(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	sweepAt := time.Now().Add(2 * time.Hour)

	expired, err := w.engine.ExpireOrders(sweepAt)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	if got := w.spendable(t, "maker", reserveCcy); !almostEqual(got, 1000) {
		t.Errorf("expected full release to 1000, got %f", got)
	}

	expired, err = w.engine.ExpireOrders(sweepAt)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired %d orders", expired)
	}
	if got := w.spendable(t, "maker", reserveCcy); !almostEqual(got, 1000) {
		t.Errorf("second sweep changed balance to %f", got)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.Status != types.OrderStatusExpired {
		t.Errorf("expected EXPIRED, got %s", updated.Status)
	}
}

// Two concurrent accepts against remaining=10, each requesting 6, must never
// fill more than 10 in total: one settles for 6, the other is clamped to 4.
func TestConcurrentAcceptsNeverOverfill(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 10, 50, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*types.AcceptResult, 2)
	errs := make([]error, 2)
	takers := []string{"taker", "other"}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = w.engine.AcceptOrder(takers[i], order.OrderID, 6)
		}(i)
	}
	wg.Wait()

	var totalFilled float64
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			if !errors.Is(errs[i], types.ErrOrderNotActive) {
				t.Errorf("unexpected error from accept %d: %v", i, errs[i])
			}
			continue
		}
		totalFilled += results[i].FilledReserveAmount
	}
	if totalFilled > 10+1e-9 {
		t.Fatalf("total filled %f exceeds order amount 10", totalFilled)
	}

	trades, err := w.engine.db.GetTradesByOrder(order.OrderID)
	if err != nil {
		t.Fatalf("failed to read trades: %v", err)
	}
	var tradeSum float64
	for _, trade := range trades {
		tradeSum += trade.ReserveAmount
	}
	if tradeSum > 10+1e-9 {
		t.Fatalf("trade ledger sums to %f, exceeds order amount", tradeSum)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.FilledReserveAmount > updated.ReserveAmount {
		t.Fatalf("order overfilled: %f > %f", updated.FilledReserveAmount, updated.ReserveAmount)
	}
}

// The guarded fill-progress update is the last line of defense against
// overfill; driving it directly past the remaining amount must fail.
func TestFillProgressOverfillGuard(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	ledger := NewDatabase(w.db)
	tx := ledger.Begin()
	_, err = ledger.UpdateFillProgress(tx, order.OrderID, 150)
	tx.Rollback()

	if !errors.Is(err, types.ErrOverfillAttempt) {
		t.Fatalf("expected overfill attempt, got %v", err)
	}

	updated, _ := w.engine.GetOrder(order.OrderID)
	if updated.FilledReserveAmount != 0 {
		t.Errorf("overfill attempt left filled=%f", updated.FilledReserveAmount)
	}
}

// An accept racing a cancel must either settle before the cancel or fail
// cleanly with order-not-active; funds may never be consumed twice.
func TestCancelThenAcceptFailsCleanly(t *testing.T) {
	w := newTestWorld(t)

	order, err := w.engine.CreateOrder("maker", testPair, types.SideOfferReserve, 100, 500, "")
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := w.engine.CancelOrder("maker", order.OrderID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	_, err = w.engine.AcceptOrder("taker", order.OrderID, 10)
	if !errors.Is(err, types.ErrOrderNotActive) {
		t.Fatalf("expected order-not-active after cancel, got %v", err)
	}
	if got := w.locked(t, "maker", reserveCcy); !almostEqual(got, 0) {
		t.Errorf("lock resurrected after cancel: %f", got)
	}
}
