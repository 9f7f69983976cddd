package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/money"
)

// ToSmallUnits converts a line quantity to the product's small-unit basis.
// A factor below one is treated as one.
func ToSmallUnits(qty int64, unit UnitType, factor int64) int64 {
	if unit != UnitLarge {
		return qty
	}
	if factor < 1 {
		factor = 1
	}
	return qty * factor
}

// NextAverageCost computes the weighted-average cost after receiving
// addedQty small units at unitCost. When the resulting quantity is zero
// the prior cost is retained: there is nothing to weight against and
// dropping the cost basis would corrupt later sales.
func NextAverageCost(currentQty int64, currentAvg decimal.Decimal, addedQty int64, unitCost decimal.Decimal) decimal.Decimal {
	newQty := currentQty + addedQty
	if newQty == 0 {
		return currentAvg
	}
	current := decimal.NewFromInt(currentQty).Mul(currentAvg)
	added := decimal.NewFromInt(addedQty).Mul(unitCost)
	return money.Round(current.Add(added).Div(decimal.NewFromInt(newQty)))
}
