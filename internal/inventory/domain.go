package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/shared"
)

// UnitType selects between a product's base stocking unit and its
// optional bulk unit.
type UnitType string

const (
	// UnitSmall is the base stocking unit. Every movement quantity is
	// persisted in small units regardless of the unit the line was
	// entered in.
	UnitSmall UnitType = "SMALL"
	// UnitLarge is the bulk unit, related to small by Product.Factor.
	UnitLarge UnitType = "LARGE"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementPurchase       MovementType = "PURCHASE"
	MovementSale           MovementType = "SALE"
	MovementAdjustmentIn   MovementType = "ADJUSTMENT_IN"
	MovementAdjustmentOut  MovementType = "ADJUSTMENT_OUT"
	MovementTransfer       MovementType = "TRANSFER"
	MovementSaleReturn     MovementType = "SALE_RETURN"
	MovementPurchaseReturn MovementType = "PURCHASE_RETURN"
)

// Product carries the costing state the ledger maintains. AvgCost is
// derived and must never be written outside this package.
type Product struct {
	ID         int64
	SKU        string
	Name       string
	SmallUnit  string
	LargeUnit  string
	Factor     int64
	AvgCost    decimal.Decimal
	SmallPrice decimal.Decimal
	LargePrice decimal.Decimal
	UpdatedAt  time.Time
}

// HasLargeUnit reports whether the product defines a bulk unit.
func (p Product) HasLargeUnit() bool {
	return p.LargeUnit != "" && p.Factor > 1
}

// Movement is an immutable stock fact. Qty is signed and always in
// small units; CostAtTime is the cost snapshot taken when the movement
// was recorded and is never recomputed retroactively.
type Movement struct {
	ID          int64
	WarehouseID int64
	ProductID   int64
	Qty         int64
	CostAtTime  decimal.Decimal
	Type        MovementType
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// Balance summarises on-hand quantity per (warehouse, product).
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	UpdatedAt   time.Time
}

// MovementInput describes a movement to append to the ledger.
type MovementInput struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	CostAtTime  decimal.Decimal
	Type        MovementType
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// PurchaseLineInput describes one purchase invoice line.
type PurchaseLineInput struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	Unit        UnitType
	UnitCost    decimal.Decimal
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// SaleLineInput describes one sales invoice line.
type SaleLineInput struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	Unit        UnitType
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// ReturnLineInput reverses part of an earlier sale or purchase. OriginalRef
// points at the document whose movement carries the cost snapshot to reuse.
type ReturnLineInput struct {
	WarehouseID int64
	ProductID   int64
	Qty         int64
	Unit        UnitType
	Type        MovementType
	OriginalRef shared.DocRef
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// MovementFilter filters ledger listings for the stock card.
type MovementFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrInsufficientStock is matched by errors.Is against
// *InsufficientStockError values.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrOriginalMovementNotFound indicates a return referencing a document
// with no recorded movement for the product.
var ErrOriginalMovementNotFound = errors.New("inventory: original movement not found")

// InsufficientStockError names the warehouse and product whose on-hand
// quantity would go negative.
type InsufficientStockError struct {
	WarehouseID int64
	ProductID   int64
	OnHand      int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: would result in negative stock for product %d in warehouse %d (on hand %d, requested %d)",
		e.ProductID, e.WarehouseID, e.OnHand, e.Requested)
}

// Is makes errors.Is(err, ErrInsufficientStock) succeed.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
