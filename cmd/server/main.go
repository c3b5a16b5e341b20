// Package main is the entry point for the paper trading service: a
// simulated crypto portfolio with durable persistence and user accounts.
//
// Startup sequence:
//  1. Load configuration from environment variables (.env supported)
//  2. Initialize structured logging
//  3. Open the three databases (auth.db, ledger.db, cache.db) and migrate
//  4. Wire repositories, the reconciler, the price feed and services
//  5. Start background jobs (market tick, autosave, queue drain)
//  6. Serve HTTP until a shutdown signal arrives, then flush sessions
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mundocripto/papertrade/internal/config"
	"github.com/mundocripto/papertrade/internal/database"
	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/market"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/mundocripto/papertrade/internal/modules/trading"
	"github.com/mundocripto/papertrade/internal/reconciler"
	"github.com/mundocripto/papertrade/internal/server"
	"github.com/mundocripto/papertrade/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting papertrade")

	// Databases. The ledger gets the durable profile (synchronous=FULL),
	// the cache trades durability for speed, auth uses the standard
	// profile.
	authDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "auth.db"),
		Profile: database.ProfileStandard,
		Name:    "auth",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open auth database")
	}
	defer authDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{authDB, ledgerDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Repositories
	userRepo := auth.NewUserRepository(authDB.Conn(), log)
	transactionRepo := portfolio.NewTransactionRepository(ledgerDB.Conn(), log)
	snapshotRepo := portfolio.NewSnapshotRepository(ledgerDB.Conn(), log)

	// Write-behind persistence: local fallback in cache.db, drained into
	// ledger.db.
	localStore := reconciler.NewLocalStore(cacheDB.Conn(), log)
	remoteStore := reconciler.NewLedgerRemote(transactionRepo, snapshotRepo)
	rec := reconciler.New(localStore, remoteStore, reconciler.Config{
		MaxAttempts: cfg.DrainMaxAttempts,
		RetryDelay:  cfg.DrainRetryDelay,
	}, log)
	rec.Start()
	defer rec.Stop()

	// Services
	authService := auth.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL, log)
	feed := market.NewFeed(log)
	sessions := trading.NewSessionManager(rec, snapshotRepo, transactionRepo, log)
	tradingService := trading.NewService(sessions, feed, rec, transactionRepo, snapshotRepo, log)

	// Background jobs
	jobs := cron.New()
	if _, err := jobs.AddFunc("@every "+cfg.PriceTickEvery.String(), feed.Tick); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule market tick")
	}
	if _, err := jobs.AddFunc("@every "+cfg.SnapshotEvery.String(), sessions.SaveAll); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule autosave")
	}
	if _, err := jobs.AddFunc("@every "+cfg.DrainEvery.String(), rec.Drain); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule queue drain")
	}
	jobs.Start()
	log.Info().
		Dur("tick", cfg.PriceTickEvery).
		Dur("autosave", cfg.SnapshotEvery).
		Dur("drain", cfg.DrainEvery).
		Msg("Background jobs scheduled")

	srv := server.New(server.Config{
		Log:             log,
		AuthDB:          authDB,
		LedgerDB:        ledgerDB,
		CacheDB:         cacheDB,
		Config:          cfg,
		AuthService:     authService,
		TradingService:  tradingService,
		Feed:            feed,
		Reconciler:      rec,
		TransactionRepo: transactionRepo,
		SnapshotRepo:    snapshotRepo,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Stop the schedule, then flush every live session and drain once
	// more so nothing is lost across the restart.
	jobs.Stop()
	sessions.SaveAll()
	rec.Drain()

	log.Info().Msg("Shutdown complete")
}
