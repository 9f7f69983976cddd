package installment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/money"
)

// Scheduler is the stateless installment engine. Its methods take the
// caller's transaction so schedule writes commit atomically with the
// document posting that triggered them.
type Scheduler struct{}

// CreateSchedule generates and persists the schedule for an invoice's
// credit remainder.
func (Scheduler) CreateSchedule(ctx context.Context, tx TxRepository, invoiceID int64, remaining decimal.Decimal, months int, start time.Time) ([]Installment, error) {
	schedule, err := GenerateSchedule(invoiceID, remaining, months, start)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// ApplyPayment fills the invoice's open installments oldest-first and
// returns the unapplied leftover.
func (Scheduler) ApplyPayment(ctx context.Context, tx TxRepository, invoiceID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !money.IsPositive(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	open, err := tx.ListOpenByInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(open) == 0 {
		return decimal.Zero, ErrNoOpenInstallments
	}
	before := make([]decimal.Decimal, len(open))
	for i := range open {
		before[i] = open[i].PaidAmount
	}
	leftover := Fill(open, amount)
	for i := range open {
		if open[i].PaidAmount.Equal(before[i]) {
			continue
		}
		if err := tx.UpdatePayment(ctx, open[i].ID, open[i].PaidAmount, open[i].Status); err != nil {
			return decimal.Zero, err
		}
	}
	return leftover, nil
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]Installment, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// Service exposes installment queries and the overdue sweep.
type Service struct {
	repo      RepositoryPort
	scheduler Scheduler
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Scheduler returns the stateless engine for posting-time composition.
func (s *Service) Scheduler() Scheduler {
	return s.scheduler
}

// ListByInvoice returns an invoice's schedule.
func (s *Service) ListByInvoice(ctx context.Context, invoiceID int64) ([]Installment, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

// SweepOverdue marks past-due pending installments overdue. The status
// flip carries no monetary effect.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	return s.repo.MarkOverdue(ctx, asOf)
}
