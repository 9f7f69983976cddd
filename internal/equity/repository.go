package equity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/platform/db"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// Repository persists equity periods in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type repoTx struct {
	periods TxRepository
	cash    treasury.TxRepository
}

func (t repoTx) Periods() TxRepository       { return t.periods }
func (t repoTx) Cash() treasury.TxRepository { return t.cash }

// WithTx executes the callback inside a repeatable-read transaction
// spanning both period rows and treasury writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, repoTx{periods: NewTxRepository(tx), cash: treasury.NewTxRepository(tx)})
	})
}

const periodSelect = `SELECT id, number, start_date, COALESCE(end_date, 'epoch'::timestamptz),
	status, total_revenue::text, total_expenses::text, net_profit::text
	FROM equity_periods`

// CurrentPeriod returns the open period and its partner locks without
// taking row locks.
func (r *Repository) CurrentPeriod(ctx context.Context) (Period, []PeriodPartner, error) {
	row := r.pool.QueryRow(ctx, periodSelect+` WHERE status = 'OPEN'`)
	period, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, nil, ErrNoOpenPeriod
	}
	if err != nil {
		return Period{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT period_id, partner_id, equity_pct::text, capital_at_start::text,
		 profit_allocated::text, capital_injected::text, drawings_taken::text
		 FROM equity_period_partners WHERE period_id = $1 ORDER BY partner_id`,
		period.ID)
	if err != nil {
		return Period{}, nil, err
	}
	defer rows.Close()
	var locks []PeriodPartner
	for rows.Next() {
		lock, err := scanPeriodPartner(rows)
		if err != nil {
			return Period{}, nil, err
		}
		locks = append(locks, lock)
	}
	return period, locks, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) GetOpenPeriodForUpdate(ctx context.Context) (Period, error) {
	row := r.tx.QueryRow(ctx, periodSelect+` WHERE status = 'OPEN' FOR UPDATE`)
	period, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrNoOpenPeriod
	}
	return period, err
}

func (r *txRepo) MaxPeriodNumber(ctx context.Context) (int, error) {
	var number int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM equity_periods`).Scan(&number)
	return number, err
}

func (r *txRepo) InsertPeriod(ctx context.Context, period Period) (int64, error) {
	if period.Status == PeriodStatusOpen {
		var open bool
		if err := r.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM equity_periods WHERE status = 'OPEN')`).Scan(&open); err != nil {
			return 0, err
		}
		if open {
			return 0, ErrPeriodAlreadyOpen
		}
	}
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO equity_periods (number, start_date, status, total_revenue, total_expenses, net_profit)
		 VALUES ($1, $2, $3, 0, 0, 0) RETURNING id`,
		period.Number, period.StartDate, string(period.Status)).Scan(&id)
	return id, err
}

func (r *txRepo) ClosePeriod(ctx context.Context, id int64, end time.Time, revenue, expenses, net decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE equity_periods
		 SET status = 'CLOSED', end_date = $2, total_revenue = $3, total_expenses = $4, net_profit = $5
		 WHERE id = $1 AND status = 'OPEN'`,
		id, end, revenue.String(), expenses.String(), net.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoOpenPeriod
	}
	return nil
}

func (r *txRepo) GetPeriodPartner(ctx context.Context, periodID, partnerID int64) (PeriodPartner, error) {
	row := r.tx.QueryRow(ctx,
		`SELECT period_id, partner_id, equity_pct::text, capital_at_start::text,
		 profit_allocated::text, capital_injected::text, drawings_taken::text
		 FROM equity_period_partners WHERE period_id = $1 AND partner_id = $2 FOR UPDATE`,
		periodID, partnerID)
	lock, err := scanPeriodPartner(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PeriodPartner{}, ErrPeriodPartnerNotFound
	}
	return lock, err
}

func (r *txRepo) UpsertPeriodPartner(ctx context.Context, row PeriodPartner) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO equity_period_partners
		 (period_id, partner_id, equity_pct, capital_at_start, profit_allocated, capital_injected, drawings_taken)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (period_id, partner_id) DO UPDATE SET
		 equity_pct = EXCLUDED.equity_pct,
		 capital_at_start = EXCLUDED.capital_at_start,
		 profit_allocated = EXCLUDED.profit_allocated,
		 capital_injected = EXCLUDED.capital_injected,
		 drawings_taken = EXCLUDED.drawings_taken`,
		row.PeriodID, row.PartnerID, row.EquityPct.String(), row.CapitalAtStart.String(),
		row.ProfitAllocated.String(), row.CapitalInjected.String(), row.DrawingsTaken.String())
	return err
}

func (r *txRepo) ListPeriodPartners(ctx context.Context, periodID int64) ([]PeriodPartner, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT period_id, partner_id, equity_pct::text, capital_at_start::text,
		 profit_allocated::text, capital_injected::text, drawings_taken::text
		 FROM equity_period_partners WHERE period_id = $1 ORDER BY partner_id FOR UPDATE`,
		periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []PeriodPartner
	for rows.Next() {
		lock, err := scanPeriodPartner(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func (r *txRepo) SetProfitAllocated(ctx context.Context, periodID, partnerID int64, allocated decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE equity_period_partners SET profit_allocated = $3
		 WHERE period_id = $1 AND partner_id = $2`,
		periodID, partnerID, allocated.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodPartnerNotFound
	}
	return nil
}

func (r *txRepo) SumProfit(ctx context.Context, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var revenueRaw, expensesRaw string
	err := r.tx.QueryRow(ctx,
		`SELECT
		 (SELECT COALESCE(SUM(total), 0) FROM documents
		  WHERE kind = 'REVENUE' AND status = 'POSTED' AND occurred_at >= $1 AND occurred_at <= $2)::text,
		 (SELECT COALESCE(SUM(total), 0) FROM documents
		  WHERE kind = 'EXPENSE' AND status = 'POSTED' AND occurred_at >= $1 AND occurred_at <= $2)::text`,
		from, to).Scan(&revenueRaw, &expensesRaw)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	revenue, err := decimal.NewFromString(revenueRaw)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	expenses, err := decimal.NewFromString(expensesRaw)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return revenue, expenses, nil
}

func (r *txRepo) InsertAssetContribution(ctx context.Context, partnerID int64, amount decimal.Decimal, note string, at time.Time) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO asset_contributions (partner_id, amount, note, contributed_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		partnerID, amount.String(), note, at).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (Period, error) {
	var (
		period                          Period
		status                          string
		revenueRaw, expensesRaw, netRaw string
	)
	if err := row.Scan(&period.ID, &period.Number, &period.StartDate, &period.EndDate,
		&status, &revenueRaw, &expensesRaw, &netRaw); err != nil {
		return Period{}, err
	}
	period.Status = PeriodStatus(status)
	var err error
	if period.TotalRevenue, err = decimal.NewFromString(revenueRaw); err != nil {
		return Period{}, err
	}
	if period.TotalExpenses, err = decimal.NewFromString(expensesRaw); err != nil {
		return Period{}, err
	}
	if period.NetProfit, err = decimal.NewFromString(netRaw); err != nil {
		return Period{}, err
	}
	return period, nil
}

func scanPeriodPartner(row rowScanner) (PeriodPartner, error) {
	var (
		lock                                       PeriodPartner
		pctRaw, startRaw, allocRaw, injRaw, drwRaw string
	)
	if err := row.Scan(&lock.PeriodID, &lock.PartnerID, &pctRaw, &startRaw,
		&allocRaw, &injRaw, &drwRaw); err != nil {
		return PeriodPartner{}, err
	}
	var err error
	if lock.EquityPct, err = decimal.NewFromString(pctRaw); err != nil {
		return PeriodPartner{}, err
	}
	if lock.CapitalAtStart, err = decimal.NewFromString(startRaw); err != nil {
		return PeriodPartner{}, err
	}
	if lock.ProfitAllocated, err = decimal.NewFromString(allocRaw); err != nil {
		return PeriodPartner{}, err
	}
	if lock.CapitalInjected, err = decimal.NewFromString(injRaw); err != nil {
		return PeriodPartner{}, err
	}
	if lock.DrawingsTaken, err = decimal.NewFromString(drwRaw); err != nil {
		return PeriodPartner{}, err
	}
	return lock, nil
}
