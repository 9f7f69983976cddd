package installment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/money"
)

// GenerateSchedule splits remaining into months equal installments due
// at successive monthly offsets from start, the first one month after
// it. The last installment absorbs the rounding remainder so the slice
// sums exactly to remaining.
func GenerateSchedule(invoiceID int64, remaining decimal.Decimal, months int, start time.Time) ([]Installment, error) {
	if months <= 0 {
		return nil, ErrInvalidMonths
	}
	if !money.IsPositive(remaining) {
		return nil, ErrInvalidAmount
	}
	remaining = money.Round(remaining)
	per := money.Round(remaining.Div(decimal.NewFromInt(int64(months))))
	out := make([]Installment, 0, months)
	allocated := decimal.Zero
	for seq := 1; seq <= months; seq++ {
		amount := per
		if seq == months {
			amount = remaining.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		out = append(out, Installment{
			InvoiceID: invoiceID,
			Sequence:  seq,
			Amount:    amount,
			DueDate:   start.AddDate(0, seq, 0),
			Status:    StatusPending,
		})
	}
	return out, nil
}

// Fill applies amount to the installments strictly in ascending due
// date order, partially satisfying one before moving to the next. It
// mutates the slice in place and returns the unapplied leftover.
func Fill(installments []Installment, amount decimal.Decimal) decimal.Decimal {
	for i := range installments {
		if amount.Sign() <= 0 {
			break
		}
		if installments[i].Status == StatusPaid {
			continue
		}
		open := installments[i].Outstanding()
		if open.Sign() <= 0 {
			continue
		}
		fill := decimal.Min(open, amount)
		installments[i].PaidAmount = installments[i].PaidAmount.Add(fill)
		if installments[i].Outstanding().IsZero() {
			installments[i].Status = StatusPaid
		}
		amount = amount.Sub(fill)
	}
	return amount
}
