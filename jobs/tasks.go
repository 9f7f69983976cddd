package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInstallmentSweep marks past-due pending installments overdue.
	TaskInstallmentSweep = "installments:mark-overdue"
	// TaskBalanceSweep reruns the partner balance projector over every
	// partner, healing any drift in the cached balances.
	TaskBalanceSweep = "partners:recalculate"
	// TaskIdempotencyPrune drops idempotency claims past the retention
	// window so the keys table does not grow without bound.
	TaskIdempotencyPrune = "maintenance:prune-idempotency"
)

// idempotencyRetention keeps claims long enough to absorb client retries.
const idempotencyRetention = 7 * 24 * time.Hour

// NewInstallmentSweepTask constructs the overdue sweep task.
func NewInstallmentSweepTask() *asynq.Task {
	return asynq.NewTask(TaskInstallmentSweep, nil)
}

// NewBalanceSweepTask constructs the balance reconciliation task.
func NewBalanceSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBalanceSweep, nil)
}

// NewIdempotencyPruneTask constructs the claim prune task.
func NewIdempotencyPruneTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPrune, nil)
}

// InstallmentSweeper marks past-due installments overdue.
type InstallmentSweeper interface {
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// BalanceRecalculator reruns the balance projector over all partners.
type BalanceRecalculator interface {
	RecalculateAllBalances(ctx context.Context) (int, error)
}

// HandleInstallmentSweep returns the handler for the overdue sweep.
func HandleInstallmentSweep(sweeper InstallmentSweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		marked, err := sweeper.SweepOverdue(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.Info("installment sweep finished", slog.Int64("marked_overdue", marked))
		return nil
	}
}

// ClaimPruner removes idempotency claims older than the retention window.
type ClaimPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// HandleIdempotencyPrune returns the handler for the claim prune.
func HandleIdempotencyPrune(pruner ClaimPruner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := pruner.Cleanup(ctx, idempotencyRetention); err != nil {
			return err
		}
		logger.Info("idempotency prune finished", slog.Duration("retention", idempotencyRetention))
		return nil
	}
}

// HandleBalanceSweep returns the handler for the balance sweep.
func HandleBalanceSweep(recalculator BalanceRecalculator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		recalculated, err := recalculator.RecalculateAllBalances(ctx)
		if err != nil {
			logger.Warn("balance sweep finished with errors",
				slog.Int("recalculated", recalculated), slog.Any("error", err))
			return err
		}
		logger.Info("balance sweep finished", slog.Int("recalculated", recalculated))
		return nil
	}
}
