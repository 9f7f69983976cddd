package treasury

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/shared"
)

// TreasuryType distinguishes physical cash drawers from bank accounts.
type TreasuryType string

const (
	TreasuryCash TreasuryType = "CASH"
	TreasuryBank TreasuryType = "BANK"
)

// Treasury is a cash or bank account whose balance is the sum of its
// active transactions.
type Treasury struct {
	ID        int64
	Name      string
	Type      TreasuryType
	CreatedAt time.Time
}

// TransactionType enumerates supported treasury transaction kinds.
type TransactionType string

const (
	TxIncome               TransactionType = "INCOME"
	TxExpense              TransactionType = "EXPENSE"
	TxCollection           TransactionType = "COLLECTION"
	TxPayment              TransactionType = "PAYMENT"
	TxRefund               TransactionType = "REFUND"
	TxCapitalDeposit       TransactionType = "CAPITAL_DEPOSIT"
	TxPartnerDrawing       TransactionType = "PARTNER_DRAWING"
	TxPartnerLoanReceipt   TransactionType = "PARTNER_LOAN_RECEIPT"
	TxPartnerLoanRepayment TransactionType = "PARTNER_LOAN_REPAYMENT"
	TxEmployeeAdvance      TransactionType = "EMPLOYEE_ADVANCE"
	TxSalaryPayment        TransactionType = "SALARY_PAYMENT"
	TxProfitAllocation     TransactionType = "PROFIT_ALLOCATION"
	TxAssetContribution    TransactionType = "ASSET_CONTRIBUTION"
	TxDepreciationExpense  TransactionType = "DEPRECIATION_EXPENSE"
	TxCommissionPayout     TransactionType = "COMMISSION_PAYOUT"
	TxCommissionReversal   TransactionType = "COMMISSION_REVERSAL"
	TxDiscount             TransactionType = "DISCOUNT"
)

// KnownTransactionType reports whether t is one of the enumerated kinds.
func KnownTransactionType(t TransactionType) bool {
	switch t {
	case TxIncome, TxExpense, TxCollection, TxPayment, TxRefund,
		TxCapitalDeposit, TxPartnerDrawing, TxPartnerLoanReceipt,
		TxPartnerLoanRepayment, TxEmployeeAdvance, TxSalaryPayment,
		TxProfitAllocation, TxAssetContribution, TxDepreciationExpense,
		TxCommissionPayout, TxCommissionReversal, TxDiscount:
		return true
	}
	return false
}

// Transaction is an immutable signed treasury fact. Rows are never hard
// deleted; voiding soft-deletes them so audits keep the full history.
type Transaction struct {
	ID          int64
	TreasuryID  int64
	Amount      decimal.Decimal
	Type        TransactionType
	Description string
	PartnerID   int64
	EmployeeID  int64
	Ref         shared.DocRef
	Deleted     bool
	OccurredAt  time.Time
}

// TransactionInput describes a transaction to append to the ledger.
type TransactionInput struct {
	TreasuryID  int64
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	PartnerID   int64
	EmployeeID  int64
	Ref         shared.DocRef
	OccurredAt  time.Time
}

// PartnerType classifies trading partners.
type PartnerType string

const (
	PartnerCustomer    PartnerType = "CUSTOMER"
	PartnerSupplier    PartnerType = "SUPPLIER"
	PartnerShareholder PartnerType = "SHAREHOLDER"
)

// Partner is a customer, supplier or shareholder. CurrentBalance and the
// shareholder capital fields are derived caches; the ledgers are the
// source of truth and RecalculateBalance overwrites the cache.
type Partner struct {
	ID               int64
	Name             string
	Type             PartnerType
	CurrentBalance   decimal.Decimal
	CurrentCapital   decimal.Decimal
	EquityPercentage decimal.Decimal
	IsManager        bool
	MonthlySalary    decimal.Decimal
	UpdatedAt        time.Time
}

// TransactionFilter filters statement listings.
type TransactionFilter struct {
	TreasuryID     int64
	PartnerID      int64
	IncludeDeleted bool
	From           time.Time
	To             time.Time
	Page           int
	PerPage        int
}

// ErrInsufficientFunds is matched by errors.Is against
// *InsufficientFundsError values.
var ErrInsufficientFunds = errors.New("treasury: insufficient funds")

// ErrUnknownTransactionType indicates a kind outside the enum.
var ErrUnknownTransactionType = errors.New("treasury: unknown transaction type")

// ErrInvalidAmount indicates a zero amount.
var ErrInvalidAmount = errors.New("treasury: amount must be non zero")

// ErrTreasuryNotFound indicates a missing treasury row.
var ErrTreasuryNotFound = errors.New("treasury: treasury not found")

// ErrPartnerNotFound indicates a missing partner row.
var ErrPartnerNotFound = errors.New("treasury: partner not found")

// ErrTransactionNotFound indicates a missing transaction row.
var ErrTransactionNotFound = errors.New("treasury: transaction not found")

// InsufficientFundsError names the treasury whose balance would go
// negative.
type InsufficientFundsError struct {
	TreasuryID int64
	Balance    decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("treasury: insufficient funds in treasury %d (balance %s, requested %s)",
		e.TreasuryID, e.Balance.StringFixed(4), e.Requested.StringFixed(4))
}

// Is makes errors.Is(err, ErrInsufficientFunds) succeed.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
