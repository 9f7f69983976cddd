package installment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/db"
)

// Repository persists installments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional installment operations so the
// posting orchestrator can generate and fill schedules atomically with
// document writes.
type TxRepository interface {
	InsertSchedule(ctx context.Context, installments []Installment) error
	ListOpenByInvoiceForUpdate(ctx context.Context, invoiceID int64) ([]Installment, error)
	UpdatePayment(ctx context.Context, id int64, paidAmount decimal.Decimal, status Status) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const installmentSelect = `SELECT id, invoice_id, sequence, amount::text, due_date, status, paid_amount::text
	FROM installments`

// ListByInvoice returns every installment of an invoice in sequence
// order.
func (r *Repository) ListByInvoice(ctx context.Context, invoiceID int64) ([]Installment, error) {
	rows, err := r.pool.Query(ctx, installmentSelect+` WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// MarkOverdue flips pending installments past their due date to
// overdue and reports how many rows changed.
func (r *Repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE installments SET status = 'OVERDUE'
		 WHERE status = 'PENDING' AND due_date < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) InsertSchedule(ctx context.Context, installments []Installment) error {
	for _, inst := range installments {
		_, err := r.tx.Exec(ctx,
			`INSERT INTO installments (invoice_id, sequence, amount, due_date, status, paid_amount)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			inst.InvoiceID, inst.Sequence, inst.Amount.String(), inst.DueDate,
			string(inst.Status), inst.PaidAmount.String())
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) ListOpenByInvoiceForUpdate(ctx context.Context, invoiceID int64) ([]Installment, error) {
	rows, err := r.tx.Query(ctx,
		installmentSelect+` WHERE invoice_id = $1 AND status <> 'PAID' ORDER BY due_date, sequence FOR UPDATE`,
		invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *txRepo) UpdatePayment(ctx context.Context, id int64, paidAmount decimal.Decimal, status Status) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE installments SET paid_amount = $2, status = $3 WHERE id = $1`,
		id, paidAmount.String(), string(status))
	return err
}

func collect(rows pgx.Rows) ([]Installment, error) {
	var out []Installment
	for rows.Next() {
		var (
			inst               Installment
			status             string
			amountRaw, paidRaw string
		)
		if err := rows.Scan(&inst.ID, &inst.InvoiceID, &inst.Sequence, &amountRaw,
			&inst.DueDate, &status, &paidRaw); err != nil {
			return nil, err
		}
		inst.Status = Status(status)
		var err error
		if inst.Amount, err = decimal.NewFromString(amountRaw); err != nil {
			return nil, err
		}
		if inst.PaidAmount, err = decimal.NewFromString(paidRaw); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
