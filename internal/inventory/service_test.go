package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradecore-erp/tradecore/internal/shared"
)

type memoryStockRepo struct {
	products       map[int64]*Product
	balances       map[[2]int64]*Balance
	movements      []Movement
	nextMovementID int64
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{
		products: make(map[int64]*Product),
		balances: make(map[[2]int64]*Balance),
	}
}

func (r *memoryStockRepo) addProduct(p Product) {
	cp := p
	r.products[p.ID] = &cp
}

func (r *memoryStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryStockRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return *p, nil
}

func (r *memoryStockRepo) GetProduct(ctx context.Context, id int64) (Product, error) {
	return r.GetProductForUpdate(ctx, id)
}

func (r *memoryStockRepo) UpdateProductCost(ctx context.Context, id int64, avgCost decimal.Decimal) error {
	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.AvgCost = avgCost
	return nil
}

func (r *memoryStockRepo) SumProductOnHand(ctx context.Context, productID int64) (int64, error) {
	var total int64
	for key, b := range r.balances {
		if key[1] == productID {
			total += b.Qty
		}
	}
	return total, nil
}

func (r *memoryStockRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	b, ok := r.balances[[2]int64{warehouseID, productID}]
	if !ok {
		return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
	}
	return *b, nil
}

func (r *memoryStockRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	cp := balance
	r.balances[[2]int64{balance.WarehouseID, balance.ProductID}] = &cp
	return nil
}

func (r *memoryStockRepo) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	r.nextMovementID++
	movement.ID = r.nextMovementID
	r.movements = append(r.movements, movement)
	return movement.ID, nil
}

func (r *memoryStockRepo) FindMovementByRef(ctx context.Context, ref shared.DocRef, productID int64) (Movement, error) {
	for _, m := range r.movements {
		if m.Ref == ref && m.ProductID == productID {
			return m, nil
		}
	}
	return Movement{}, ErrOriginalMovementNotFound
}

func (r *memoryStockRepo) CurrentStock(ctx context.Context, warehouseID, productID int64) (int64, error) {
	var total int64
	for _, m := range r.movements {
		if m.WarehouseID == warehouseID && m.ProductID == productID {
			total += m.Qty
		}
	}
	return total, nil
}

func (r *memoryStockRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.WarehouseID == filter.WarehouseID && m.ProductID == filter.ProductID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestPurchaseMovesWeightedAverage(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SKU: "P-1", SmallUnit: "pc", Factor: 1, AvgCost: decimal.Zero})
	ledger := Ledger{}
	ctx := context.Background()

	_, err := ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 100, Unit: UnitSmall, UnitCost: dec("10"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 10},
	})
	require.NoError(t, err)
	require.True(t, repo.products[1].AvgCost.Equal(dec("10")))

	_, err = ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 50, Unit: UnitSmall, UnitCost: dec("16"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 11},
	})
	require.NoError(t, err)
	require.True(t, repo.products[1].AvgCost.Equal(dec("12")), "got %s", repo.products[1].AvgCost)

	qty, err := repo.CurrentStock(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(150), qty)
}

func TestPurchaseMovementRecordsPurchasedCostNotAverage(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1, AvgCost: decimal.Zero})
	ledger := Ledger{}
	ctx := context.Background()

	_, err := ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 100, Unit: UnitSmall, UnitCost: dec("10"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 1},
	})
	require.NoError(t, err)
	m, err := ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 50, Unit: UnitSmall, UnitCost: dec("16"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 2},
	})
	require.NoError(t, err)
	require.True(t, m.CostAtTime.Equal(dec("16")), "movement keeps purchased cost, got %s", m.CostAtTime)
}

func TestLargeUnitPurchaseConvertsQuantityAndCost(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", LargeUnit: "box", Factor: 12, AvgCost: decimal.Zero})
	ledger := Ledger{}

	m, err := ledger.ApplyPurchaseLine(context.Background(), repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 5, Unit: UnitLarge, UnitCost: dec("24"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 1},
	})
	require.NoError(t, err)
	require.Equal(t, int64(60), m.Qty)
	require.True(t, m.CostAtTime.Equal(dec("2")), "per-small cost, got %s", m.CostAtTime)
	require.True(t, repo.products[1].AvgCost.Equal(dec("2")))
}

func TestSaleSnapshotsAverageCostWithoutMovingIt(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1, AvgCost: dec("12")})
	require.NoError(t, repo.UpsertBalance(context.Background(), Balance{WarehouseID: 1, ProductID: 1, Qty: 150}))
	ledger := Ledger{}

	m, err := ledger.ApplySaleLine(context.Background(), repo, SaleLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 30, Unit: UnitSmall,
		Ref: shared.DocRef{Kind: shared.RefSalesInvoice, ID: 7},
	})
	require.NoError(t, err)
	require.Equal(t, int64(-30), m.Qty)
	require.True(t, m.CostAtTime.Equal(dec("12")))
	require.True(t, repo.products[1].AvgCost.Equal(dec("12")), "sale must not move avg cost")
	require.Equal(t, int64(120), repo.balances[[2]int64{1, 1}].Qty)
}

func TestSaleReturnReusesOriginalCostSnapshot(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1, AvgCost: dec("12")})
	require.NoError(t, repo.UpsertBalance(context.Background(), Balance{WarehouseID: 1, ProductID: 1, Qty: 150}))
	ledger := Ledger{}
	ctx := context.Background()

	invoiceRef := shared.DocRef{Kind: shared.RefSalesInvoice, ID: 7}
	_, err := ledger.ApplySaleLine(ctx, repo, SaleLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 30, Unit: UnitSmall, Ref: invoiceRef,
	})
	require.NoError(t, err)

	// Average drifts after the sale; the return must still use the
	// original sale's snapshot.
	_, err = ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 120, Unit: UnitSmall, UnitCost: dec("20"),
		Ref: shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 8},
	})
	require.NoError(t, err)
	require.False(t, repo.products[1].AvgCost.Equal(dec("12")))

	m, err := ledger.ApplyReturnLine(ctx, repo, ReturnLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 5, Unit: UnitSmall,
		Type:        MovementSaleReturn,
		OriginalRef: invoiceRef,
		Ref:         shared.DocRef{Kind: shared.RefSalesReturn, ID: 9},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), m.Qty)
	require.True(t, m.CostAtTime.Equal(dec("12")), "return priced at original snapshot, got %s", m.CostAtTime)
}

func TestPurchaseReturnMovesStockOut(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1, AvgCost: decimal.Zero})
	ledger := Ledger{}
	ctx := context.Background()

	purchaseRef := shared.DocRef{Kind: shared.RefPurchaseInvoice, ID: 4}
	_, err := ledger.ApplyPurchaseLine(ctx, repo, PurchaseLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 10, Unit: UnitSmall, UnitCost: dec("3"), Ref: purchaseRef,
	})
	require.NoError(t, err)

	m, err := ledger.ApplyReturnLine(ctx, repo, ReturnLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 4, Unit: UnitSmall,
		Type:        MovementPurchaseReturn,
		OriginalRef: purchaseRef,
		Ref:         shared.DocRef{Kind: shared.RefPurchaseReturn, ID: 5},
	})
	require.NoError(t, err)
	require.Equal(t, int64(-4), m.Qty)
	require.True(t, m.CostAtTime.Equal(dec("3")))
}

func TestInsufficientStockNamesWarehouseAndProduct(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 9, SmallUnit: "pc", Factor: 1, AvgCost: dec("5")})
	ledger := Ledger{}

	_, err := ledger.ApplySaleLine(context.Background(), repo, SaleLineInput{
		WarehouseID: 3, ProductID: 9, Qty: 1, Unit: UnitSmall,
		Ref: shared.DocRef{Kind: shared.RefSalesInvoice, ID: 1},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "product 9")
	require.Contains(t, err.Error(), "warehouse 3")
	require.Empty(t, repo.movements, "no partial movement may persist")
}

func TestAllowNegativePolicyLiftsGuard(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1, AvgCost: dec("5")})
	ledger := Ledger{AllowNegative: true}

	m, err := ledger.ApplySaleLine(context.Background(), repo, SaleLineInput{
		WarehouseID: 1, ProductID: 1, Qty: 2, Unit: UnitSmall,
		Ref: shared.DocRef{Kind: shared.RefSalesInvoice, ID: 1},
	})
	require.NoError(t, err)
	require.Equal(t, int64(-2), m.Qty)
}

func TestServiceRecordMovementAndCurrentStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(Product{ID: 1, SmallUnit: "pc", Factor: 1})
	svc := NewService(repo, Ledger{}, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		WarehouseID: 1, ProductID: 1, Qty: 25, CostAtTime: dec("2"),
		Type: MovementAdjustmentIn,
		Ref:  shared.DocRef{Kind: shared.RefStockAdjustment, ID: 3},
	}, 42)
	require.NoError(t, err)

	qty, err := svc.CurrentStock(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(25), qty)

	card, err := svc.StockCard(ctx, MovementFilter{WarehouseID: 1, ProductID: 1, From: time.Time{}})
	require.NoError(t, err)
	require.Len(t, card, 1)
}
