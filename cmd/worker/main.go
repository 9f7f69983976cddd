package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tradecore-erp/tradecore/internal/app"
	"github.com/tradecore-erp/tradecore/internal/installment"
	"github.com/tradecore-erp/tradecore/internal/platform/db"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
	"github.com/tradecore-erp/tradecore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	cashLedger := treasury.NewLedger(cfg.UncheckedTransactionTypes())

	treasuryRepo := treasury.NewRepository(pool)
	treasuryService := treasury.NewService(treasuryRepo, cashLedger, auditLogger)

	installmentRepo := installment.NewRepository(pool)
	installmentService := installment.NewService(installmentRepo)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInstallmentSweep, Handler: jobs.HandleInstallmentSweep(installmentService, logger)},
			{Type: jobs.TaskBalanceSweep, Handler: jobs.HandleBalanceSweep(treasuryService, logger)},
			{Type: jobs.TaskIdempotencyPrune, Handler: jobs.HandleIdempotencyPrune(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InstallmentSweepCron, Task: jobs.NewInstallmentSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.BalanceSweepCron, Task: jobs.NewBalanceSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyPruneCron, Task: jobs.NewIdempotencyPruneTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
