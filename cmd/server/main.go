package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/access"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/auth"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/config"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/database"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/exchange"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/funds"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/orderbook"
	"github.com/ShayanSpiel/fallenempire-sub002/internal/rates"
	"github.com/ShayanSpiel/fallenempire-sub002/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the exchange API server with graceful shutdown
// support. It wires the custodian, access policy, matching engine, order
// book and rate services, and starts the background workers.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	custodian := funds.NewService(db)
	accessPolicy := access.NewService(db)

	exchangeService := exchange.NewService(db, custodian, accessPolicy, exchange.Options{
		OrderExpiry:      cfg.OrderExpiry,
		AcceptRetries:    cfg.AcceptRetries,
		AcceptRetryDelay: cfg.AcceptRetryDelay,
	})
	exchangeHandlers := exchange.NewGinHandlers(exchangeService)

	bookService := orderbook.NewService(db, cfg.DefaultTickSize, cfg.MaxBookLevels)
	bookHandlers := orderbook.NewGinHandlers(bookService)

	ratesService := rates.NewService(db, cfg.SnapshotPeriod)
	ratesHandlers := rates.NewGinHandlers(ratesService)

	// Background workers: expiry sweep and period-boundary snapshots
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go exchange.NewSweeper(exchangeService, cfg.SweepInterval).Start(workerCtx)
	go rates.NewScheduler(ratesService).Start(workerCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, exchangeHandlers, bookHandlers, ratesHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Order routes require a citizen JWT; market data routes are public behind
// rate limiting.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	exchangeHandlers *exchange.GinHandlers,
	bookHandlers *orderbook.GinHandlers,
	ratesHandlers *rates.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", exchangeHandlers.CreateOrderHandler())
			orders.GET("/:order_id", exchangeHandlers.GetOrderHandler())
			orders.POST("/:order_id/accept", exchangeHandlers.AcceptOrderHandler())
			orders.DELETE("/:order_id", exchangeHandlers.CancelOrderHandler())
		}

		// Market data routes
		book := v1.Group("/book")
		{
			book.GET("/:pair_id", bookHandlers.GetLevelsHandler())
			book.GET("/:pair_id/level", bookHandlers.GetLevelOrdersHandler())
		}

		ratesGroup := v1.Group("/rates")
		{
			ratesGroup.GET("/:pair_id", ratesHandlers.GetRateHistoryHandler())
		}
	}
}
