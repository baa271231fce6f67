// Package main is the entry point for the lotledger API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lotledger/internal/domain/alerts"
	"lotledger/internal/domain/allocation"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/valuation"
	v1 "lotledger/internal/infrastructure/http/v1"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/internal/infrastructure/storage/postgres/inventory_repo"
	"lotledger/pkg/logger"
	"lotledger/pkg/numerator"
)

func main() {
	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.SetDefault(log)

	ctx := context.Background()
	log.Info("starting lotledger server")

	// --- Database connection ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	auditService, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}

	numeratorService := numerator.New(pool)

	// --- Repositories ---
	productRepo := inventory_repo.NewProductRepo(txManager)
	ledgerRepo := inventory_repo.NewLedgerRepo(txManager)
	alertRepo := inventory_repo.NewAlertRepo(txManager)

	// --- Domain services ---
	productService := product.NewService(productRepo, numeratorService, txManager)
	ledgerService := ledger.NewService(ledgerRepo, productRepo, numeratorService, txManager)
	allocator := allocation.NewEngine(ledgerService, productRepo)
	valuationService := valuation.NewService(ledgerRepo, productRepo)
	alertService := alerts.NewService(alertRepo, productRepo, ledgerRepo, txManager)

	if days := getEnvInt("ALERT_EXPIRY_WINDOW_DAYS", alerts.DefaultExpiryWindowDays); days > 0 {
		alertService.SetExpiryWindow(days)
	}

	// Cross-service wiring. The ledger audits batch mutations and pushes
	// stock changes to the alert engine; deleting a product deactivates its
	// batches in the same transaction.
	ledgerService.SetAuditor(auditService)
	ledgerService.SetObserver(alertService)
	productService.SetBatchDeactivator(ledgerService)

	// --- Background sweep ---
	sweepInterval := getEnvDuration("SWEEP_INTERVAL", 15*time.Minute)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runSweepLoop(sweepCtx, log, ledgerService, alertService, sweepInterval)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:      pool,
		Logger:    log,
		Products:  productService,
		Ledger:    ledgerService,
		Allocator: allocator,
		Valuation: valuationService,
		Alerts:    alertService,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopSweep()

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// runSweepLoop periodically expires overdue batches and refreshes stock
// alerts. Individual sweep failures are logged and retried next tick.
func runSweepLoop(ctx context.Context, log *logger.Logger, ledgerSvc *ledger.Service, alertSvc *alerts.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := ledgerSvc.ExpireOverdueBatches(ctx, time.Now())
			if err != nil {
				log.Warnw("batch expiry sweep failed", "error", err)
			} else if expired > 0 {
				log.Infow("batches expired", "count", expired)
			}

			changed, err := alertSvc.Sweep(ctx)
			if err != nil {
				log.Warnw("alert sweep failed", "error", err)
			} else if len(changed) > 0 {
				log.Infow("alerts updated", "count", len(changed))
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
