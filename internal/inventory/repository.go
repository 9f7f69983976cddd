package inventory

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

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateProductCost(ctx context.Context, id int64, avgCost decimal.Decimal) error
	SumProductOnHand(ctx context.Context, productID int64) (int64, error)
	GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	FindMovementByRef(ctx context.Context, ref shared.DocRef, productID int64) (Movement, error)
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("inventory: balance not found")

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("inventory: product not found")

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other units of work can
// compose stock effects with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// CurrentStock folds movements for the pair; the balance row is the fast
// path but the ledger stays the source of truth.
func (r *Repository) CurrentStock(ctx context.Context, warehouseID, productID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM stock_movements WHERE warehouse_id = $1 AND product_id = $2`,
		warehouseID, productID).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// ListMovements returns stock card entries newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, warehouse_id, product_id, qty, cost_at_time::text, movement_type, ref_kind, ref_id, occurred_at
		 FROM stock_movements
		 WHERE warehouse_id = $1 AND product_id = $2
		   AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		   AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $5`,
		filter.WarehouseID, filter.ProductID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, productSelect+` WHERE id = $1`, id))
}

const productSelect = `SELECT id, sku, name, small_unit, COALESCE(large_unit, ''), factor,
	avg_cost::text, small_price::text, large_price::text, updated_at FROM products`

func (r *txRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, productSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateProductCost(ctx context.Context, id int64, avgCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE products SET avg_cost = $2, updated_at = NOW() WHERE id = $1`,
		id, avgCost.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) SumProductOnHand(ctx context.Context, productID int64) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM stock_balances WHERE product_id = $1`,
		productID).Scan(&qty)
	return qty, err
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var b Balance
	err := r.tx.QueryRow(ctx,
		`SELECT warehouse_id, product_id, qty, updated_at FROM stock_balances
		 WHERE warehouse_id = $1 AND product_id = $2 FOR UPDATE`,
		warehouseID, productID).Scan(&b.WarehouseID, &b.ProductID, &b.Qty, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_balances (warehouse_id, product_id, qty, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`,
		balance.WarehouseID, balance.ProductID, balance.Qty)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (warehouse_id, product_id, qty, cost_at_time, movement_type, ref_kind, ref_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		movement.WarehouseID, movement.ProductID, movement.Qty, movement.CostAtTime.String(),
		string(movement.Type), string(movement.Ref.Kind), movement.Ref.ID, movement.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepo) FindMovementByRef(ctx context.Context, ref shared.DocRef, productID int64) (Movement, error) {
	m, err := scanMovement(r.tx.QueryRow(ctx,
		`SELECT id, warehouse_id, product_id, qty, cost_at_time::text, movement_type, ref_kind, ref_id, occurred_at
		 FROM stock_movements WHERE ref_kind = $1 AND ref_id = $2 AND product_id = $3
		 ORDER BY id LIMIT 1`,
		string(ref.Kind), ref.ID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrOriginalMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	var avgCost, smallPrice, largePrice string
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.SmallUnit, &p.LargeUnit, &p.Factor,
		&avgCost, &smallPrice, &largePrice, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return Product{}, err
	}
	if p.SmallPrice, err = decimal.NewFromString(smallPrice); err != nil {
		return Product{}, err
	}
	if p.LargePrice, err = decimal.NewFromString(largePrice); err != nil {
		return Product{}, err
	}
	return p, nil
}

func scanMovement(row rowScanner) (Movement, error) {
	var m Movement
	var cost, refKind string
	err := row.Scan(&m.ID, &m.WarehouseID, &m.ProductID, &m.Qty, &cost, (*string)(&m.Type), &refKind, &m.Ref.ID, &m.OccurredAt)
	if err != nil {
		return Movement{}, err
	}
	m.Ref.Kind = shared.RefKind(refKind)
	if m.CostAtTime, err = decimal.NewFromString(cost); err != nil {
		return Movement{}, err
	}
	return m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
