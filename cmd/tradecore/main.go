package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tradecore-erp/tradecore/internal/app"
	"github.com/tradecore-erp/tradecore/internal/equity"
	"github.com/tradecore-erp/tradecore/internal/installment"
	"github.com/tradecore-erp/tradecore/internal/inventory"
	"github.com/tradecore-erp/tradecore/internal/observability"
	"github.com/tradecore-erp/tradecore/internal/platform/cache"
	"github.com/tradecore-erp/tradecore/internal/platform/db"
	"github.com/tradecore-erp/tradecore/internal/posting"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
	"github.com/tradecore-erp/tradecore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	locker := cache.NewLocker(redisClient)
	metrics := observability.NewMetrics()

	stockLedger := inventory.Ledger{AllowNegative: cfg.StockAllowNegative}
	cashLedger := treasury.NewLedger(cfg.UncheckedTransactionTypes())

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, stockLedger, auditLogger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	treasuryRepo := treasury.NewRepository(pool)
	treasuryService := treasury.NewService(treasuryRepo, cashLedger, auditLogger)
	treasuryHandler := treasury.NewHandler(logger, treasuryService)

	equityRepo := equity.NewRepository(pool)
	equityService := equity.NewService(equityRepo, cashLedger, locker, auditLogger)
	equityHandler := equity.NewHandler(logger, equityService)

	postingRepo := posting.NewRepository(pool)
	postingService := posting.NewService(postingRepo, stockLedger, cashLedger, auditLogger, metrics)
	postingHandler := posting.NewHandler(logger, postingService, idempotencyStore)

	installmentRepo := installment.NewRepository(pool)
	installmentService := installment.NewService(installmentRepo)
	installmentHandler := installment.NewHandler(logger, installmentService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventoryHandler,
		TreasuryHandler:    treasuryHandler,
		EquityHandler:      equityHandler,
		PostingHandler:     postingHandler,
		InstallmentHandler: installmentHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
