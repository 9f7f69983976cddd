package equity

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PeriodStatus is the lifecycle state of an equity period.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// Period is a bounded window during which shareholder percentages are
// frozen for profit allocation. Exactly one period is open at any time;
// the engine enforces this, not the schema.
type Period struct {
	ID            int64
	Number        int
	StartDate     time.Time
	EndDate       time.Time
	Status        PeriodStatus
	TotalRevenue  decimal.Decimal
	TotalExpenses decimal.Decimal
	NetProfit     decimal.Decimal
}

// PeriodPartner locks one shareholder into a period. Rows mutate only
// while their period is open and freeze on close.
type PeriodPartner struct {
	PeriodID        int64
	PartnerID       int64
	EquityPct       decimal.Decimal
	CapitalAtStart  decimal.Decimal
	ProfitAllocated decimal.Decimal
	CapitalInjected decimal.Decimal
	DrawingsTaken   decimal.Decimal
}

// CapitalKind classifies how capital enters the company.
type CapitalKind string

const (
	// CapitalCash is a cash deposit into a treasury.
	CapitalCash CapitalKind = "CASH"
	// CapitalAsset contributes a fixed asset; no cash entry is made.
	CapitalAsset CapitalKind = "ASSET"
	// CapitalEquity adjusts capital directly with no side record.
	CapitalEquity CapitalKind = "EQUITY"
)

// InjectCapitalInput describes a capital injection.
type InjectCapitalInput struct {
	PartnerID  int64
	Amount     decimal.Decimal
	Kind       CapitalKind
	TreasuryID int64
	Note       string
	ActorID    int64
}

// DrawingInput describes a capital drawing.
type DrawingInput struct {
	PartnerID  int64
	Amount     decimal.Decimal
	TreasuryID int64
	Note       string
	ActorID    int64
}

// ClosePeriodInput describes a period close request.
type ClosePeriodInput struct {
	AsOf       time.Time
	TreasuryID int64
	Note       string
	ActorID    int64
}

// ErrNoOpenPeriod indicates a drawing or close attempted with no open
// period. Injections self-heal by creating period #1 instead.
var ErrNoOpenPeriod = errors.New("equity: no open period")

// ErrPeriodAlreadyOpen indicates an attempt to open a second period.
var ErrPeriodAlreadyOpen = errors.New("equity: a period is already open")

// ErrNotShareholder indicates a capital operation on a partner that is
// not a shareholder.
var ErrNotShareholder = errors.New("equity: partner is not a shareholder")

// ErrInvalidCapitalKind indicates a kind outside cash/asset/equity.
var ErrInvalidCapitalKind = errors.New("equity: invalid capital kind")

// ErrInvalidAmount indicates a non-positive amount.
var ErrInvalidAmount = errors.New("equity: amount must be positive")
