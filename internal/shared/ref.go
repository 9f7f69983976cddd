package shared

import "fmt"

// RefKind enumerates the document kinds a ledger fact may point at.
// Keeping this closed makes an invalid reference a compile-time error
// instead of a free-form type string.
type RefKind string

const (
	RefSalesInvoice      RefKind = "SALES_INVOICE"
	RefPurchaseInvoice   RefKind = "PURCHASE_INVOICE"
	RefSalesReturn       RefKind = "SALES_RETURN"
	RefPurchaseReturn    RefKind = "PURCHASE_RETURN"
	RefStockAdjustment   RefKind = "STOCK_ADJUSTMENT"
	RefWarehouseTransfer RefKind = "WAREHOUSE_TRANSFER"
	RefExpense           RefKind = "EXPENSE"
	RefRevenue           RefKind = "REVENUE"
	RefFixedAsset        RefKind = "FIXED_ASSET"
	RefCapitalEvent      RefKind = "CAPITAL_EVENT"
	RefInstallment       RefKind = "INSTALLMENT"
)

// DocRef identifies the document a movement or transaction originates from.
type DocRef struct {
	Kind RefKind
	ID   int64
}

// IsZero reports whether the reference is unset.
func (r DocRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Valid reports whether the kind is one of the known document kinds.
func (r DocRef) Valid() bool {
	switch r.Kind {
	case RefSalesInvoice, RefPurchaseInvoice, RefSalesReturn, RefPurchaseReturn,
		RefStockAdjustment, RefWarehouseTransfer, RefExpense, RefRevenue,
		RefFixedAsset, RefCapitalEvent, RefInstallment:
		return true
	}
	return false
}

// String renders the reference for audit rows and error messages.
func (r DocRef) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}
