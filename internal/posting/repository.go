package posting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/installment"
	"github.com/tradecore-erp/tradecore/internal/inventory"
	"github.com/tradecore-erp/tradecore/internal/platform/db"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxDocuments exposes transactional document operations.
type TxDocuments interface {
	GetDocumentForUpdate(ctx context.Context, kind shared.RefKind, id int64) (Document, error)
	MarkPosted(ctx context.Context, id int64, postedAt time.Time) error
	UpdatePayment(ctx context.Context, id int64, paid, remaining decimal.Decimal) error
}

// Tx bundles every repository participating in one posting unit of
// work. All of them wrap the same database transaction, so stock, cash,
// schedule and status writes commit or roll back together.
type Tx interface {
	Documents() TxDocuments
	Stock() inventory.TxRepository
	Cash() treasury.TxRepository
	Installments() installment.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetDocument(ctx context.Context, kind shared.RefKind, id int64) (Document, error)
}

type repoTx struct {
	documents    TxDocuments
	stock        inventory.TxRepository
	cash         treasury.TxRepository
	installments installment.TxRepository
}

func (t repoTx) Documents() TxDocuments                 { return t.documents }
func (t repoTx) Stock() inventory.TxRepository          { return t.stock }
func (t repoTx) Cash() treasury.TxRepository            { return t.cash }
func (t repoTx) Installments() installment.TxRepository { return t.installments }

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, repoTx{
			documents:    &txDocs{tx: tx},
			stock:        inventory.NewTxRepository(tx),
			cash:         treasury.NewTxRepository(tx),
			installments: installment.NewTxRepository(tx),
		})
	})
}

const documentSelect = `SELECT id, kind, status, COALESCE(partner_id, 0), COALESCE(warehouse_id, 0),
	COALESCE(dest_warehouse_id, 0), COALESCE(treasury_id, 0),
	subtotal::text, discount::text, total::text, paid_amount::text, remaining_amount::text,
	installment_months, COALESCE(installment_start, 'epoch'::timestamptz),
	COALESCE(original_doc_id, 0), occurred_at, COALESCE(posted_at, 'epoch'::timestamptz)
	FROM documents`

// GetDocument loads a document with its lines without locking.
func (r *Repository) GetDocument(ctx context.Context, kind shared.RefKind, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, documentSelect+` WHERE id = $1`, id)
	return loadDocument(ctx, r.pool, row, kind, id)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDocument(ctx context.Context, q queryer, row pgx.Row, kind shared.RefKind, id int64) (Document, error) {
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if doc.Kind != kind {
		return Document{}, ErrKindMismatch
	}
	rows, err := q.Query(ctx,
		`SELECT id, product_id, qty, unit, unit_price::text, discount::text
		 FROM document_lines WHERE document_id = $1 ORDER BY id`, id)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line                  Line
			unit                  string
			priceRaw, discountRaw string
		)
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Qty, &unit, &priceRaw, &discountRaw); err != nil {
			return Document{}, err
		}
		line.Unit = inventory.UnitType(unit)
		if line.UnitPrice, err = decimal.NewFromString(priceRaw); err != nil {
			return Document{}, err
		}
		if line.Discount, err = decimal.NewFromString(discountRaw); err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

type txDocs struct {
	tx pgx.Tx
}

func (r *txDocs) GetDocumentForUpdate(ctx context.Context, kind shared.RefKind, id int64) (Document, error) {
	row := r.tx.QueryRow(ctx, documentSelect+` WHERE id = $1 FOR UPDATE`, id)
	return loadDocument(ctx, r.tx, row, kind, id)
}

func (r *txDocs) MarkPosted(ctx context.Context, id int64, postedAt time.Time) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE documents SET status = 'POSTED', posted_at = $2
		 WHERE id = $1 AND status = 'DRAFT'`, id, postedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

func (r *txDocs) UpdatePayment(ctx context.Context, id int64, paid, remaining decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE documents SET paid_amount = $2, remaining_amount = $3 WHERE id = $1`,
		id, paid.String(), remaining.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc    Document
		kind   string
		status string

		subtotalRaw, discountRaw, totalRaw, paidRaw, remainingRaw string
	)
	if err := row.Scan(&doc.ID, &kind, &status, &doc.PartnerID, &doc.WarehouseID,
		&doc.DestWarehouseID, &doc.TreasuryID, &subtotalRaw, &discountRaw, &totalRaw,
		&paidRaw, &remainingRaw, &doc.InstallmentMonths, &doc.InstallmentStart,
		&doc.OriginalDocID, &doc.OccurredAt, &doc.PostedAt); err != nil {
		return Document{}, err
	}
	doc.Kind = shared.RefKind(kind)
	doc.Status = Status(status)
	var err error
	if doc.Subtotal, err = decimal.NewFromString(subtotalRaw); err != nil {
		return Document{}, err
	}
	if doc.Discount, err = decimal.NewFromString(discountRaw); err != nil {
		return Document{}, err
	}
	if doc.Total, err = decimal.NewFromString(totalRaw); err != nil {
		return Document{}, err
	}
	if doc.PaidAmount, err = decimal.NewFromString(paidRaw); err != nil {
		return Document{}, err
	}
	if doc.RemainingAmount, err = decimal.NewFromString(remainingRaw); err != nil {
		return Document{}, err
	}
	return doc, nil
}
