package treasury

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/db"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// Repository persists the treasury ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger, the
// balance projector and the equity engine.
type TxRepository interface {
	GetTreasuryForUpdate(ctx context.Context, id int64) (Treasury, error)
	ActiveBalance(ctx context.Context, treasuryID int64) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, transaction Transaction) (int64, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	SoftDeleteTransaction(ctx context.Context, id int64) error
	GetPartnerForUpdate(ctx context.Context, id int64) (Partner, error)
	UpdatePartnerBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	UpdatePartnerEquity(ctx context.Context, id int64, capital, percentage decimal.Decimal) error
	ListShareholdersForUpdate(ctx context.Context) ([]Partner, error)
	ListActivePartnerTransactions(ctx context.Context, partnerID int64) ([]Transaction, error)
	PartnerDocumentExposure(ctx context.Context, partnerID int64) (decimal.Decimal, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other units of work can
// compose cash effects with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// Balance sums active transaction amounts for a treasury.
func (r *Repository) Balance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM treasury_transactions
		 WHERE treasury_id = $1 AND deleted_at IS NULL`,
		treasuryID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// ListPartnerIDs returns every partner id for sweep jobs.
func (r *Repository) ListPartnerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM partners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const transactionSelect = `SELECT id, treasury_id, amount::text, tx_type, description,
	COALESCE(partner_id, 0), COALESCE(employee_id, 0), ref_kind, ref_id,
	deleted_at IS NOT NULL, occurred_at FROM treasury_transactions`

// ListTransactions lists transactions for a statement, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	rows, err := r.pool.Query(ctx, transactionSelect+`
		 WHERE ($1 = 0 OR treasury_id = $1)
		   AND ($2 = 0 OR partner_id = $2)
		   AND ($3 OR deleted_at IS NULL)
		   AND ($4::timestamptz IS NULL OR occurred_at >= $4)
		   AND ($5::timestamptz IS NULL OR occurred_at <= $5)
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $6 OFFSET $7`,
		filter.TreasuryID, filter.PartnerID, filter.IncludeDeleted,
		nullTime(filter.From), nullTime(filter.To), perPage, shared.PageOffset(page, perPage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPartner loads a partner by id.
func (r *Repository) GetPartner(ctx context.Context, id int64) (Partner, error) {
	return scanPartner(r.pool.QueryRow(ctx, partnerSelect+` WHERE id = $1`, id))
}

func (r *txRepo) GetTreasuryForUpdate(ctx context.Context, id int64) (Treasury, error) {
	var t Treasury
	err := r.tx.QueryRow(ctx,
		`SELECT id, name, treasury_type, created_at FROM treasuries WHERE id = $1 FOR UPDATE`,
		id).Scan(&t.ID, &t.Name, (*string)(&t.Type), &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Treasury{}, ErrTreasuryNotFound
		}
		return Treasury{}, err
	}
	return t, nil
}

func (r *txRepo) ActiveBalance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	var raw string
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM treasury_transactions
		 WHERE treasury_id = $1 AND deleted_at IS NULL`,
		treasuryID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *txRepo) InsertTransaction(ctx context.Context, transaction Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO treasury_transactions (treasury_id, amount, tx_type, description, partner_id, employee_id, ref_kind, ref_id, occurred_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $8, $9) RETURNING id`,
		transaction.TreasuryID, transaction.Amount.String(), string(transaction.Type),
		transaction.Description, transaction.PartnerID, transaction.EmployeeID,
		string(transaction.Ref.Kind), transaction.Ref.ID, transaction.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, transactionSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepo) SoftDeleteTransaction(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE treasury_transactions SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

const partnerSelect = `SELECT id, name, partner_type, current_balance::text, current_capital::text,
	equity_percentage::text, is_manager, monthly_salary::text, updated_at FROM partners`

func (r *txRepo) GetPartnerForUpdate(ctx context.Context, id int64) (Partner, error) {
	return scanPartner(r.tx.QueryRow(ctx, partnerSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdatePartnerBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE partners SET current_balance = $2, updated_at = NOW() WHERE id = $1`,
		id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func (r *txRepo) UpdatePartnerEquity(ctx context.Context, id int64, capital, percentage decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE partners SET current_capital = $2, equity_percentage = $3, updated_at = NOW() WHERE id = $1`,
		id, capital.String(), percentage.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func (r *txRepo) ListShareholdersForUpdate(ctx context.Context) ([]Partner, error) {
	rows, err := r.tx.Query(ctx, partnerSelect+` WHERE partner_type = $1 ORDER BY id FOR UPDATE`,
		string(PartnerShareholder))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepo) ListActivePartnerTransactions(ctx context.Context, partnerID int64) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, transactionSelect+`
		 WHERE partner_id = $1 AND deleted_at IS NULL ORDER BY id`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PartnerDocumentExposure sums the signed remainders of the partner's
// posted documents: sales invoices the partner still owes, minus what we
// owe back on purchases and returns.
func (r *txRepo) PartnerDocumentExposure(ctx context.Context, partnerID int64) (decimal.Decimal, error) {
	var raw string
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE kind
			WHEN 'SALES_INVOICE' THEN remaining_amount
			WHEN 'PURCHASE_INVOICE' THEN -remaining_amount
			WHEN 'SALES_RETURN' THEN -remaining_amount
			WHEN 'PURCHASE_RETURN' THEN remaining_amount
			ELSE 0 END), 0)::text
		FROM documents WHERE partner_id = $1 AND status = 'POSTED'`, partnerID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var amount, refKind string
	err := row.Scan(&t.ID, &t.TreasuryID, &amount, (*string)(&t.Type), &t.Description,
		&t.PartnerID, &t.EmployeeID, &refKind, &t.Ref.ID, &t.Deleted, &t.OccurredAt)
	if err != nil {
		return Transaction{}, err
	}
	t.Ref.Kind = shared.RefKind(refKind)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func scanPartner(row rowScanner) (Partner, error) {
	var p Partner
	var balance, capital, percentage, salary string
	err := row.Scan(&p.ID, &p.Name, (*string)(&p.Type), &balance, &capital, &percentage, &p.IsManager, &salary, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrPartnerNotFound
		}
		return Partner{}, err
	}
	if p.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return Partner{}, err
	}
	if p.CurrentCapital, err = decimal.NewFromString(capital); err != nil {
		return Partner{}, err
	}
	if p.EquityPercentage, err = decimal.NewFromString(percentage); err != nil {
		return Partner{}, err
	}
	if p.MonthlySalary, err = decimal.NewFromString(salary); err != nil {
		return Partner{}, err
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
