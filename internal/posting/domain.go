package posting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/inventory"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// Status is the document lifecycle state. The transition is one way:
// reversal is modelled as a new return document, never by un-posting.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
)

// Line is one document line. Lines belong exclusively to their parent
// document and are read-only during posting.
type Line struct {
	ID        int64
	ProductID int64
	Qty       int64
	Unit      inventory.UnitType
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// Document is the posting unit for every commercial document kind. The
// kind tag decides which ledger effects posting applies; fields unused
// by a kind stay zero.
type Document struct {
	ID              int64
	Kind            shared.RefKind
	Status          Status
	PartnerID       int64
	WarehouseID     int64
	DestWarehouseID int64
	TreasuryID      int64
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal

	// Credit sales only: a schedule is generated at posting when
	// InstallmentMonths > 0 and a remainder exists.
	InstallmentMonths int
	InstallmentStart  time.Time

	// Returns only: the invoice whose cost snapshots the return
	// reverses.
	OriginalDocID int64

	OccurredAt time.Time
	PostedAt   time.Time
	Lines      []Line
}

// Ref returns the document's ledger reference.
func (d Document) Ref() shared.DocRef {
	return shared.DocRef{Kind: d.Kind, ID: d.ID}
}

// PaymentInput describes a payment applied against a posted invoice.
type PaymentInput struct {
	Kind       shared.RefKind
	DocumentID int64
	Amount     decimal.Decimal
	Discount   decimal.Decimal
	TreasuryID int64
	Note       string
	ActorID    int64
}

// ErrAlreadyPosted is matched by errors.Is against AlreadyPostedError.
var ErrAlreadyPosted = errors.New("posting: document already posted")

// ErrDocumentNotFound indicates a missing document row.
var ErrDocumentNotFound = errors.New("posting: document not found")

// ErrUnsupportedKind indicates a kind the orchestrator cannot post.
var ErrUnsupportedKind = errors.New("posting: unsupported document kind")

// ErrKindMismatch indicates a document fetched under the wrong kind.
var ErrKindMismatch = errors.New("posting: document kind mismatch")

// ErrNotPosted indicates a payment against a draft document.
var ErrNotPosted = errors.New("posting: document is not posted")

// ErrMissingOriginal indicates a return without its source invoice.
var ErrMissingOriginal = errors.New("posting: return is missing its original document")

// AlreadyPostedError names the document whose at-most-once guard fired.
type AlreadyPostedError struct {
	Kind shared.RefKind
	ID   int64
}

func (e *AlreadyPostedError) Error() string {
	return fmt.Sprintf("posting: %s %d is already posted", e.Kind, e.ID)
}

// Is reports a match against ErrAlreadyPosted.
func (e *AlreadyPostedError) Is(target error) bool {
	return target == ErrAlreadyPosted
}
