package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/money"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentStock(ctx context.Context, warehouseID, productID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Ledger applies stock effects against a transactional repository. It is
// stateless apart from policy, so the posting orchestrator can run it
// inside its own unit of work.
type Ledger struct {
	AllowNegative bool
}

// Record appends one movement and maintains the balance row. The balance
// row is locked before the guard read so concurrent postings serialise.
func (l Ledger) Record(ctx context.Context, tx TxRepository, in MovementInput) (Movement, error) {
	if in.WarehouseID == 0 || in.ProductID == 0 {
		return Movement{}, errors.New("inventory: warehouse and product required")
	}
	if in.Qty == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if money.IsNegative(in.CostAtTime) {
		return Movement{}, ErrInvalidUnitCost
	}
	if !in.Ref.IsZero() && !in.Ref.Valid() {
		return Movement{}, fmt.Errorf("inventory: unknown reference kind %q", in.Ref.Kind)
	}
	balance, err := tx.GetBalanceForUpdate(ctx, in.WarehouseID, in.ProductID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Movement{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{WarehouseID: in.WarehouseID, ProductID: in.ProductID}
	}
	newQty := balance.Qty + in.Qty
	if newQty < 0 && !l.AllowNegative {
		return Movement{}, &InsufficientStockError{
			WarehouseID: in.WarehouseID,
			ProductID:   in.ProductID,
			OnHand:      balance.Qty,
			Requested:   -in.Qty,
		}
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	movement := Movement{
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		Qty:         in.Qty,
		CostAtTime:  money.Round(in.CostAtTime),
		Type:        in.Type,
		Ref:         in.Ref,
		OccurredAt:  occurred,
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	balance.Qty = newQty
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// ApplyPurchaseLine converts the line to small units, moves the product's
// weighted-average cost and records the inbound movement priced at the
// purchased unit cost, not the new average.
func (l Ledger) ApplyPurchaseLine(ctx context.Context, tx TxRepository, in PurchaseLineInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if money.IsNegative(in.UnitCost) {
		return Movement{}, ErrInvalidUnitCost
	}
	product, err := tx.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	smallQty := ToSmallUnits(in.Qty, in.Unit, product.Factor)
	perSmallCost := in.UnitCost
	if in.Unit == UnitLarge && product.Factor > 1 {
		perSmallCost = in.UnitCost.Div(decimal.NewFromInt(product.Factor))
	}
	onHand, err := tx.SumProductOnHand(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	newAvg := NextAverageCost(onHand, product.AvgCost, smallQty, perSmallCost)
	if err := tx.UpdateProductCost(ctx, in.ProductID, newAvg); err != nil {
		return Movement{}, err
	}
	return l.Record(ctx, tx, MovementInput{
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		Qty:         smallQty,
		CostAtTime:  money.Round(perSmallCost),
		Type:        MovementPurchase,
		Ref:         in.Ref,
		OccurredAt:  in.OccurredAt,
	})
}

// ApplySaleLine records the outbound movement at the product's current
// average cost. The average itself does not move on sales.
func (l Ledger) ApplySaleLine(ctx context.Context, tx TxRepository, in SaleLineInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	product, err := tx.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	smallQty := ToSmallUnits(in.Qty, in.Unit, product.Factor)
	return l.Record(ctx, tx, MovementInput{
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		Qty:         -smallQty,
		CostAtTime:  product.AvgCost,
		Type:        MovementSale,
		Ref:         in.Ref,
		OccurredAt:  in.OccurredAt,
	})
}

// ApplyReturnLine reverses part of an earlier movement at the snapshot
// cost recorded on the original. The original document's totals are left
// untouched.
func (l Ledger) ApplyReturnLine(ctx context.Context, tx TxRepository, in ReturnLineInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if in.Type != MovementSaleReturn && in.Type != MovementPurchaseReturn {
		return Movement{}, fmt.Errorf("inventory: %q is not a return movement type", in.Type)
	}
	product, err := tx.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	original, err := tx.FindMovementByRef(ctx, in.OriginalRef, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	smallQty := ToSmallUnits(in.Qty, in.Unit, product.Factor)
	// Opposite sign of the original: sale returns come back in, purchase
	// returns go back out.
	qty := smallQty
	if in.Type == MovementPurchaseReturn {
		qty = -smallQty
	}
	return l.Record(ctx, tx, MovementInput{
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		Qty:         qty,
		CostAtTime:  original.CostAtTime,
		Type:        in.Type,
		Ref:         in.Ref,
		OccurredAt:  in.OccurredAt,
	})
}

// Service coordinates standalone stock ledger operations.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// Ledger exposes the tx-scoped ledger for orchestrators sharing a unit of work.
func (s *Service) Ledger() Ledger {
	return s.ledger
}

// RecordMovement appends a single movement inside its own transaction.
func (s *Service) RecordMovement(ctx context.Context, in MovementInput, actorID int64) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.ledger.Record(ctx, tx, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("inventory:%s", movement.Type),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Ref:      movement.Ref,
			Meta: map[string]any{
				"warehouse_id": movement.WarehouseID,
				"product_id":   movement.ProductID,
				"qty":          movement.Qty,
			},
		})
	}
	return movement, nil
}

// CurrentStock returns the on-hand quantity for a (warehouse, product) pair.
func (s *Service) CurrentStock(ctx context.Context, warehouseID, productID int64) (int64, error) {
	if warehouseID == 0 || productID == 0 {
		return 0, errors.New("inventory: warehouse and product required")
	}
	return s.repo.CurrentStock(ctx, warehouseID, productID)
}

// StockCard lists movements for a (warehouse, product) pair.
func (s *Service) StockCard(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, errors.New("inventory: warehouse and product required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// GetProduct loads a product with its current average cost.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}
