package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/access"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/database"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/exchange"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/funds"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/orderbook"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/rates"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
	"gorm.io/gorm"
)

const (
	numCitizens = 8
	numOrders   = 40
	numAccepts  = 60
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main drives an end-to-end exchange scenario against a scratch database:
// seeds communities, citizens and balances, places resting orders, runs
// random accepts and cancels, sweeps expiries and generates rate snapshots.
func main() {
	dir, err := os.MkdirTemp("", "exchange-sim")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scratch directory")
	}
	defer os.RemoveAll(dir)

	db, err := database.NewDatabase(filepath.Join(dir, "sim.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	custodian := funds.NewService(db)
	accessPolicy := access.NewService(db)
	engine := exchange.NewService(db, custodian, accessPolicy, exchange.Options{
		OrderExpiry: time.Hour,
	})
	book := orderbook.NewService(db, 0.05, 25)
	ratesService := rates.NewService(db, time.Hour)

	pair := seedWorld(db, custodian, accessPolicy)

	citizens := make([]string, numCitizens)
	for i := range citizens {
		citizens[i] = fmt.Sprintf("citizen-%02d", i)
	}

	orderIDs := placeOrders(engine, citizens, pair)
	log.Info().Int("orders", len(orderIDs)).Msg("resting orders placed")

	accepted, rejected := runAccepts(engine, citizens, orderIDs)
	log.Info().Int("accepted", accepted).Int("rejected", rejected).Msg("acceptance phase complete")

	// Cancel a handful of surviving orders
	cancelled := 0
	for _, orderID := range orderIDs[:5] {
		order, err := engine.GetOrder(orderID)
		if err != nil || order == nil || !order.IsOpen() {
			continue
		}
		if _, err := engine.CancelOrder(order.MakerID, orderID); err == nil {
			cancelled++
		}
	}
	log.Info().Int("cancelled", cancelled).Msg("cancellation phase complete")

	// Sweep with a future clock so every surviving order expires
	expired, err := engine.ExpireOrders(time.Now().Add(2 * time.Hour))
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
	}
	log.Info().Int("expired", expired).Msg("expiry sweep complete")

	// Generate the current period's snapshot and print history
	periodStart := time.Now().Truncate(time.Hour)
	if _, err := ratesService.GenerateSnapshot(pair, periodStart, periodStart.Add(time.Hour)); err != nil {
		log.Error().Err(err).Msg("snapshot generation failed")
	}
	history, _ := ratesService.GetRateHistory(pair, 24)
	for _, candle := range history {
		log.Info().
			Time("period_start", candle.PeriodStart).
			Float64("open", candle.Open).
			Float64("high", candle.High).
			Float64("low", candle.Low).
			Float64("close", candle.Close).
			Int64("trades", candle.TradeCount).
			Msg("rate snapshot")
	}

	levels, _ := book.GetAggregatedLevels(pair, types.SideOfferReserve, 0.05, 10)
	for _, level := range levels {
		log.Info().
			Float64("rate", level.Rate).
			Float64("remaining_reserve", level.TotalRemainingReserve).
			Int("orders", level.OrderCount).
			Msg("book level after run")
	}

	reportConservation(custodian, citizens)
}

// seedWorld creates one community pair, memberships and starting balances.
func seedWorld(db *gorm.DB, custodian *funds.Service, accessPolicy *access.Service) string {
	pair := &types.CurrencyPair{
		PairID:          "PAIR_AVALON",
		CommunityID:     "COM_AVALON",
		ReserveCurrency: "GOLD",
		LocalCurrency:   "AVALON_MARK",
		Active:          true,
	}
	if err := db.Create(pair).Error; err != nil {
		log.Fatal().Err(err).Msg("failed to seed currency pair")
	}

	for i := 0; i < numCitizens; i++ {
		citizenID := fmt.Sprintf("citizen-%02d", i)
		if err := accessPolicy.AddMember(citizenID, pair.CommunityID); err != nil {
			log.Fatal().Err(err).Msg("failed to seed membership")
		}
		if err := custodian.Deposit(citizenID, "GOLD", 10_000); err != nil {
			log.Fatal().Err(err).Msg("failed to seed gold")
		}
		if err := custodian.Deposit(citizenID, "AVALON_MARK", 50_000); err != nil {
			log.Fatal().Err(err).Msg("failed to seed local currency")
		}
	}
	return pair.PairID
}

func placeOrders(engine *exchange.Service, citizens []string, pairID string) []string {
	orderIDs := make([]string, 0, numOrders)
	for i := 0; i < numOrders; i++ {
		maker := citizens[rand.Intn(len(citizens))]
		side := types.SideOfferReserve
		if rand.Intn(2) == 1 {
			side = types.SideOfferLocal
		}

		rate := 4.0 + rand.Float64()*2.0 // 4-6 local per reserve
		reserve := float64(10 + rand.Intn(90))
		local := reserve * rate

		var offered, desired float64
		if side == types.SideOfferReserve {
			offered, desired = reserve, local
		} else {
			offered, desired = local, reserve
		}

		order, err := engine.CreateOrder(maker, pairID, side, offered, desired, types.SourcePersonal)
		if err != nil {
			log.Warn().Err(err).Str("maker", maker).Msg("order rejected")
			continue
		}
		orderIDs = append(orderIDs, order.OrderID)
	}
	return orderIDs
}

func runAccepts(engine *exchange.Service, citizens []string, orderIDs []string) (accepted, rejected int) {
	for i := 0; i < numAccepts; i++ {
		taker := citizens[rand.Intn(len(citizens))]
		orderID := orderIDs[rand.Intn(len(orderIDs))]

		amount := float64(5 + rand.Intn(50))
		if _, err := engine.AcceptOrder(taker, orderID, amount); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected
}

// reportConservation prints each citizen's final holdings; with all orders
// terminal the locked column must be zero everywhere.
func reportConservation(custodian *funds.Service, citizens []string) {
	for _, citizenID := range citizens {
		for _, currency := range []string{"GOLD", "AVALON_MARK"} {
			spendable, _ := custodian.SpendableBalance(citizenID, currency)
			locked, _ := custodian.LockedBalance(citizenID, currency)
			log.Info().
				Str("citizen", citizenID).
				Str("currency", currency).
				Float64("spendable", spendable).
				Float64("locked", locked).
				Msg("final holdings")
		}
	}
}
