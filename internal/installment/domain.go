package installment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a single installment.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// Installment is one dated slice of a credit invoice's remainder. Rows
// are generated once at invoice posting and afterwards mutate only
// through payment application and the overdue sweep.
type Installment struct {
	ID         int64
	InvoiceID  int64
	Sequence   int
	Amount     decimal.Decimal
	DueDate    time.Time
	Status     Status
	PaidAmount decimal.Decimal
}

// Outstanding returns the unpaid remainder of the installment.
func (i Installment) Outstanding() decimal.Decimal {
	return i.Amount.Sub(i.PaidAmount)
}

// ErrInvalidMonths indicates a schedule request with no months.
var ErrInvalidMonths = errors.New("installment: months must be positive")

// ErrInvalidAmount indicates a non-positive remainder or payment.
var ErrInvalidAmount = errors.New("installment: amount must be positive")

// ErrNoOpenInstallments indicates a payment with nothing left to fill.
var ErrNoOpenInstallments = errors.New("installment: no open installments")
