package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/installment"
	"github.com/tradecore-erp/tradecore/internal/inventory"
	"github.com/tradecore-erp/tradecore/internal/money"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting outcomes.
type MetricsPort interface {
	PostingRecorded(kind string)
	PostingRejected(kind, reason string)
}

// Service is the document posting orchestrator: the only writer of a
// document's status and the only composer of stock and cash effects.
type Service struct {
	repo      RepositoryPort
	stock     inventory.Ledger
	cash      treasury.Ledger
	scheduler installment.Scheduler
	audit     AuditPort
	metrics   MetricsPort
	now       func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, stock inventory.Ledger, cash treasury.Ledger, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{
		repo:    repo,
		stock:   stock,
		cash:    cash,
		audit:   audit,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostSalesInvoice posts a draft sales invoice.
func (s *Service) PostSalesInvoice(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefSalesInvoice, id, actorID)
}

// PostPurchaseInvoice posts a draft purchase invoice.
func (s *Service) PostPurchaseInvoice(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefPurchaseInvoice, id, actorID)
}

// PostSalesReturn posts a draft sales return.
func (s *Service) PostSalesReturn(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefSalesReturn, id, actorID)
}

// PostPurchaseReturn posts a draft purchase return.
func (s *Service) PostPurchaseReturn(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefPurchaseReturn, id, actorID)
}

// PostStockAdjustment posts a draft stock adjustment.
func (s *Service) PostStockAdjustment(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefStockAdjustment, id, actorID)
}

// PostWarehouseTransfer posts a draft warehouse transfer.
func (s *Service) PostWarehouseTransfer(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefWarehouseTransfer, id, actorID)
}

// PostExpense posts a draft expense.
func (s *Service) PostExpense(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefExpense, id, actorID)
}

// PostRevenue posts a draft revenue.
func (s *Service) PostRevenue(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefRevenue, id, actorID)
}

// PostFixedAssetPurchase posts a draft fixed asset purchase.
func (s *Service) PostFixedAssetPurchase(ctx context.Context, id, actorID int64) (Document, error) {
	return s.post(ctx, shared.RefFixedAsset, id, actorID)
}

// Post posts any draft document by kind.
func (s *Service) Post(ctx context.Context, kind shared.RefKind, id, actorID int64) (Document, error) {
	return s.post(ctx, kind, id, actorID)
}

// GetDocument loads a document with its lines.
func (s *Service) GetDocument(ctx context.Context, kind shared.RefKind, id int64) (Document, error) {
	return s.repo.GetDocument(ctx, kind, id)
}

// post runs the posting state machine: lock the row, assert draft,
// apply stock then cash effects, flip the status, refresh the partner
// balance. Everything shares one unit of work, so a failure at any step
// leaves the draft untouched and re-postable.
func (s *Service) post(ctx context.Context, kind shared.RefKind, id, actorID int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		doc, err = tx.Documents().GetDocumentForUpdate(ctx, kind, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return &AlreadyPostedError{Kind: kind, ID: id}
		}
		if err := s.applyStockEffects(ctx, tx, doc); err != nil {
			return err
		}
		if err := s.applyCashEffects(ctx, tx, doc); err != nil {
			return err
		}
		postedAt := s.now().UTC()
		if err := tx.Documents().MarkPosted(ctx, id, postedAt); err != nil {
			return err
		}
		doc.Status = StatusPosted
		doc.PostedAt = postedAt
		if doc.PartnerID != 0 {
			return treasury.RecalculateBalanceTx(ctx, tx.Cash(), doc.PartnerID)
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.PostingRejected(string(kind), rejectionReason(err))
		}
		return Document{}, err
	}
	if s.metrics != nil {
		s.metrics.PostingRecorded(string(kind))
	}
	s.auditEvent(ctx, actorID, "posting:post", doc.Ref(), map[string]any{
		"total": doc.Total.String(),
	})
	return doc, nil
}

func (s *Service) applyStockEffects(ctx context.Context, tx Tx, doc Document) error {
	switch doc.Kind {
	case shared.RefPurchaseInvoice:
		for _, line := range doc.Lines {
			_, err := s.stock.ApplyPurchaseLine(ctx, tx.Stock(), inventory.PurchaseLineInput{
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				Qty:         line.Qty,
				Unit:        line.Unit,
				UnitCost:    line.UnitPrice,
				Ref:         doc.Ref(),
				OccurredAt:  doc.OccurredAt,
			})
			if err != nil {
				return err
			}
		}
	case shared.RefSalesInvoice:
		for _, line := range doc.Lines {
			_, err := s.stock.ApplySaleLine(ctx, tx.Stock(), inventory.SaleLineInput{
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				Qty:         line.Qty,
				Unit:        line.Unit,
				Ref:         doc.Ref(),
				OccurredAt:  doc.OccurredAt,
			})
			if err != nil {
				return err
			}
		}
	case shared.RefSalesReturn, shared.RefPurchaseReturn:
		if doc.OriginalDocID == 0 {
			return ErrMissingOriginal
		}
		movementType := inventory.MovementSaleReturn
		originalKind := shared.RefSalesInvoice
		if doc.Kind == shared.RefPurchaseReturn {
			movementType = inventory.MovementPurchaseReturn
			originalKind = shared.RefPurchaseInvoice
		}
		for _, line := range doc.Lines {
			_, err := s.stock.ApplyReturnLine(ctx, tx.Stock(), inventory.ReturnLineInput{
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				Qty:         line.Qty,
				Unit:        line.Unit,
				Type:        movementType,
				OriginalRef: shared.DocRef{Kind: originalKind, ID: doc.OriginalDocID},
				Ref:         doc.Ref(),
				OccurredAt:  doc.OccurredAt,
			})
			if err != nil {
				return err
			}
		}
	case shared.RefStockAdjustment:
		for _, line := range doc.Lines {
			if err := s.recordAtAverageCost(ctx, tx, doc, line, adjustmentType(line.Qty), doc.WarehouseID, line.Qty); err != nil {
				return err
			}
		}
	case shared.RefWarehouseTransfer:
		for _, line := range doc.Lines {
			if err := s.recordAtAverageCost(ctx, tx, doc, line, inventory.MovementTransfer, doc.WarehouseID, -line.Qty); err != nil {
				return err
			}
			if err := s.recordAtAverageCost(ctx, tx, doc, line, inventory.MovementTransfer, doc.DestWarehouseID, line.Qty); err != nil {
				return err
			}
		}
	case shared.RefExpense, shared.RefRevenue, shared.RefFixedAsset:
		// Pure cash documents.
	default:
		return ErrUnsupportedKind
	}
	return nil
}

// recordAtAverageCost appends a movement valued at the product's current
// average cost, converting large-unit line quantities first.
func (s *Service) recordAtAverageCost(ctx context.Context, tx Tx, doc Document, line Line, movementType inventory.MovementType, warehouseID, qty int64) error {
	product, err := tx.Stock().GetProductForUpdate(ctx, line.ProductID)
	if err != nil {
		return err
	}
	smallQty := inventory.ToSmallUnits(qty, line.Unit, product.Factor)
	_, err = s.stock.Record(ctx, tx.Stock(), inventory.MovementInput{
		WarehouseID: warehouseID,
		ProductID:   line.ProductID,
		Qty:         smallQty,
		CostAtTime:  product.AvgCost,
		Type:        movementType,
		Ref:         doc.Ref(),
		OccurredAt:  doc.OccurredAt,
	})
	return err
}

func adjustmentType(qty int64) inventory.MovementType {
	if qty < 0 {
		return inventory.MovementAdjustmentOut
	}
	return inventory.MovementAdjustmentIn
}

func (s *Service) applyCashEffects(ctx context.Context, tx Tx, doc Document) error {
	switch doc.Kind {
	case shared.RefSalesInvoice:
		if money.IsPositive(doc.PaidAmount) {
			if err := s.recordCash(ctx, tx, doc, treasury.TxCollection, doc.PaidAmount); err != nil {
				return err
			}
		}
		if doc.InstallmentMonths > 0 && money.IsPositive(doc.RemainingAmount) {
			start := doc.InstallmentStart
			if start.IsZero() {
				start = doc.OccurredAt
			}
			if _, err := s.scheduler.CreateSchedule(ctx, tx.Installments(), doc.ID, doc.RemainingAmount, doc.InstallmentMonths, start); err != nil {
				return err
			}
		}
	case shared.RefPurchaseInvoice:
		if money.IsPositive(doc.PaidAmount) {
			return s.recordCash(ctx, tx, doc, treasury.TxPayment, doc.PaidAmount.Neg())
		}
	case shared.RefSalesReturn:
		// Cash refunded to the customer for the returned goods.
		if money.IsPositive(doc.PaidAmount) {
			return s.recordCash(ctx, tx, doc, treasury.TxRefund, doc.PaidAmount.Neg())
		}
	case shared.RefPurchaseReturn:
		if money.IsPositive(doc.PaidAmount) {
			return s.recordCash(ctx, tx, doc, treasury.TxRefund, doc.PaidAmount)
		}
	case shared.RefExpense:
		return s.recordCash(ctx, tx, doc, treasury.TxExpense, doc.Total.Neg())
	case shared.RefRevenue:
		return s.recordCash(ctx, tx, doc, treasury.TxIncome, doc.Total)
	case shared.RefFixedAsset:
		return s.recordCash(ctx, tx, doc, treasury.TxExpense, doc.Total.Neg())
	}
	return nil
}

func (s *Service) recordCash(ctx context.Context, tx Tx, doc Document, txType treasury.TransactionType, amount decimal.Decimal) error {
	_, err := s.cash.Record(ctx, tx.Cash(), treasury.TransactionInput{
		TreasuryID:  doc.TreasuryID,
		Type:        txType,
		Amount:      amount,
		Description: fmt.Sprintf("%s %d", doc.Kind, doc.ID),
		PartnerID:   doc.PartnerID,
		Ref:         doc.Ref(),
		OccurredAt:  doc.OccurredAt,
	})
	return err
}

// RecordInvoicePayment settles part of a posted invoice: one treasury
// transaction sized amount, paid_amount += amount, remaining_amount -=
// amount + discount. A discount shrinks the remainder without a cash
// entry. Credit sales with a schedule fill their installments oldest
// first.
func (s *Service) RecordInvoicePayment(ctx context.Context, in PaymentInput) (Document, error) {
	if !money.IsPositive(in.Amount) {
		return Document{}, errors.New("posting: payment amount must be positive")
	}
	if money.IsNegative(in.Discount) {
		return Document{}, errors.New("posting: discount must not be negative")
	}
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		doc, err = tx.Documents().GetDocumentForUpdate(ctx, in.Kind, in.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusPosted {
			return ErrNotPosted
		}
		var txType treasury.TransactionType
		var amount decimal.Decimal
		switch in.Kind {
		case shared.RefSalesInvoice:
			txType, amount = treasury.TxCollection, in.Amount
		case shared.RefPurchaseInvoice:
			txType, amount = treasury.TxPayment, in.Amount.Neg()
		default:
			return ErrUnsupportedKind
		}
		_, err = s.cash.Record(ctx, tx.Cash(), treasury.TransactionInput{
			TreasuryID:  in.TreasuryID,
			Type:        txType,
			Amount:      amount,
			Description: in.Note,
			PartnerID:   doc.PartnerID,
			Ref:         doc.Ref(),
			OccurredAt:  s.now().UTC(),
		})
		if err != nil {
			return err
		}
		settled := in.Amount.Add(in.Discount)
		doc.PaidAmount = doc.PaidAmount.Add(in.Amount)
		doc.RemainingAmount = doc.RemainingAmount.Sub(settled)
		if err := tx.Documents().UpdatePayment(ctx, doc.ID, doc.PaidAmount, doc.RemainingAmount); err != nil {
			return err
		}
		if in.Kind == shared.RefSalesInvoice && doc.InstallmentMonths > 0 {
			if _, err := s.scheduler.ApplyPayment(ctx, tx.Installments(), doc.ID, settled); err != nil &&
				!errors.Is(err, installment.ErrNoOpenInstallments) {
				return err
			}
		}
		if doc.PartnerID != 0 {
			return treasury.RecalculateBalanceTx(ctx, tx.Cash(), doc.PartnerID)
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.auditEvent(ctx, in.ActorID, "posting:payment", doc.Ref(), map[string]any{
		"amount":   in.Amount.String(),
		"discount": in.Discount.String(),
	})
	return doc, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyPosted):
		return "already_posted"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, treasury.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDocumentNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) auditEvent(ctx context.Context, actorID int64, action string, ref shared.DocRef, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", ref.ID),
		Ref:      ref,
		Meta:     meta,
	})
}
