package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tradecore-erp/tradecore/internal/money"
	"github.com/tradecore-erp/tradecore/internal/shared"
)

// balanceSweepWorkers bounds concurrent projector runs during the sweep.
const balanceSweepWorkers = 4

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Balance(ctx context.Context, treasuryID int64) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	GetPartner(ctx context.Context, id int64) (Partner, error)
	ListPartnerIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Ledger appends treasury transactions against a transactional
// repository. Unchecked lists the transaction types exempt from the
// insufficient-funds guard; capital and profit postings are bookkeeping
// entries, not real cash outflows, and default to exempt.
type Ledger struct {
	Unchecked map[TransactionType]struct{}
}

// NewLedger builds a Ledger from the configured unchecked type names.
func NewLedger(uncheckedNames map[string]struct{}) Ledger {
	unchecked := make(map[TransactionType]struct{}, len(uncheckedNames))
	for name := range uncheckedNames {
		unchecked[TransactionType(name)] = struct{}{}
	}
	return Ledger{Unchecked: unchecked}
}

// Record appends one transaction. The treasury row is locked before the
// balance read so concurrent outflows serialise on the same account.
func (l Ledger) Record(ctx context.Context, tx TxRepository, in TransactionInput) (Transaction, error) {
	if in.TreasuryID == 0 {
		return Transaction{}, errors.New("treasury: treasury required")
	}
	if !KnownTransactionType(in.Type) {
		return Transaction{}, fmt.Errorf("%w: %q", ErrUnknownTransactionType, in.Type)
	}
	if in.Amount.IsZero() && in.Type != TxDiscount {
		return Transaction{}, ErrInvalidAmount
	}
	if !in.Ref.IsZero() && !in.Ref.Valid() {
		return Transaction{}, fmt.Errorf("treasury: unknown reference kind %q", in.Ref.Kind)
	}
	if _, err := tx.GetTreasuryForUpdate(ctx, in.TreasuryID); err != nil {
		return Transaction{}, err
	}
	if money.IsNegative(in.Amount) {
		if _, exempt := l.Unchecked[in.Type]; !exempt {
			balance, err := tx.ActiveBalance(ctx, in.TreasuryID)
			if err != nil {
				return Transaction{}, err
			}
			if balance.Add(in.Amount).Sign() < 0 {
				return Transaction{}, &InsufficientFundsError{
					TreasuryID: in.TreasuryID,
					Balance:    balance,
					Requested:  in.Amount.Neg(),
				}
			}
		}
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	transaction := Transaction{
		TreasuryID:  in.TreasuryID,
		Amount:      money.Round(in.Amount),
		Type:        in.Type,
		Description: in.Description,
		PartnerID:   in.PartnerID,
		EmployeeID:  in.EmployeeID,
		Ref:         in.Ref,
		OccurredAt:  occurred,
	}
	id, err := tx.InsertTransaction(ctx, transaction)
	if err != nil {
		return Transaction{}, err
	}
	transaction.ID = id
	return transaction, nil
}

// settlementTypes are the transaction kinds that move a partner's
// receivable/payable balance. Invoice-referenced settlements are skipped
// by the projector because the invoice remainder already reflects them.
var settlementTypes = map[TransactionType]struct{}{
	TxCollection:           {},
	TxPayment:              {},
	TxRefund:               {},
	TxPartnerLoanReceipt:   {},
	TxPartnerLoanRepayment: {},
	TxCommissionPayout:     {},
	TxCommissionReversal:   {},
}

func invoiceRef(kind shared.RefKind) bool {
	switch kind {
	case shared.RefSalesInvoice, shared.RefPurchaseInvoice, shared.RefSalesReturn, shared.RefPurchaseReturn:
		return true
	}
	return false
}

// ProjectPartnerBalance folds the partner's document exposure and
// non-invoice settlement transactions into the receivable/payable
// balance. Positive means the partner owes us.
func ProjectPartnerBalance(exposure decimal.Decimal, transactions []Transaction) decimal.Decimal {
	balance := exposure
	for _, t := range transactions {
		if t.Deleted {
			continue
		}
		if _, ok := settlementTypes[t.Type]; !ok {
			continue
		}
		if invoiceRef(t.Ref.Kind) {
			continue
		}
		// Cash in from a partner shrinks what they owe; cash out to a
		// partner shrinks what we owe. Both are minus the signed amount.
		balance = balance.Sub(t.Amount)
	}
	return money.Round(balance)
}

// Service coordinates treasury ledger operations and the partner balance
// projector.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// Ledger exposes the tx-scoped ledger for orchestrators sharing a unit of work.
func (s *Service) Ledger() Ledger {
	return s.ledger
}

// RecordTransaction appends a single transaction inside its own
// transaction, then refreshes the affected partner balance.
func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput, actorID int64) (Transaction, error) {
	var transaction Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transaction, err = s.ledger.Record(ctx, tx, in)
		if err != nil {
			return err
		}
		if in.PartnerID != 0 {
			return recalculateBalanceTx(ctx, tx, in.PartnerID)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("treasury:%s", transaction.Type),
			Entity:   "treasury_transaction",
			EntityID: fmt.Sprintf("%d", transaction.ID),
			Ref:      transaction.Ref,
			Meta: map[string]any{
				"treasury_id": transaction.TreasuryID,
				"amount":      transaction.Amount.String(),
				"partner_id":  transaction.PartnerID,
			},
		})
	}
	return transaction, nil
}

// Balance returns the sum of active transaction amounts for a treasury.
func (s *Service) Balance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	if treasuryID == 0 {
		return decimal.Zero, errors.New("treasury: treasury required")
	}
	return s.repo.Balance(ctx, treasuryID)
}

// Statement lists transactions for a treasury or partner.
func (s *Service) Statement(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.TreasuryID == 0 && filter.PartnerID == 0 {
		return nil, errors.New("treasury: treasury or partner required")
	}
	return s.repo.ListTransactions(ctx, filter)
}

// VoidTransaction soft-deletes a transaction. The row stays for audit
// queries but drops out of every balance computation.
func (s *Service) VoidTransaction(ctx context.Context, id int64, actorID int64, reason string) error {
	var partnerID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transaction, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if transaction.Deleted {
			return nil
		}
		if err := tx.SoftDeleteTransaction(ctx, id); err != nil {
			return err
		}
		partnerID = transaction.PartnerID
		if partnerID != 0 {
			return recalculateBalanceTx(ctx, tx, partnerID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "treasury:void",
			Entity:   "treasury_transaction",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"reason": reason, "partner_id": partnerID},
		})
	}
	return nil
}

// RecalculateBalance recomputes and overwrites a partner's cached
// balance from the ledgers. Safe to call at any time, any number of times.
func (s *Service) RecalculateBalance(ctx context.Context, partnerID int64) (decimal.Decimal, error) {
	if partnerID == 0 {
		return decimal.Zero, errors.New("treasury: partner required")
	}
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := recalculateBalanceTx(ctx, tx, partnerID); err != nil {
			return err
		}
		partner, err := tx.GetPartnerForUpdate(ctx, partnerID)
		if err != nil {
			return err
		}
		balance = partner.CurrentBalance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// GetPartner loads a partner with its cached balance.
func (s *Service) GetPartner(ctx context.Context, id int64) (Partner, error) {
	return s.repo.GetPartner(ctx, id)
}

// RecalculateAllBalances runs the projector over every partner. Each
// partner gets its own unit of work so one failure does not hold the
// rest back; the first error is reported after the sweep finishes.
func (s *Service) RecalculateAllBalances(ctx context.Context) (int, error) {
	ids, err := s.repo.ListPartnerIDs(ctx)
	if err != nil {
		return 0, err
	}
	var (
		g            errgroup.Group
		recalculated atomic.Int64
	)
	g.SetLimit(balanceSweepWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := s.RecalculateBalance(ctx, id); err != nil {
				return fmt.Errorf("partner %d: %w", id, err)
			}
			recalculated.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(recalculated.Load()), err
}

// RecalculateBalanceTx runs the projector inside a caller-owned unit of
// work, so the posting orchestrator refreshes balances atomically with
// the posting itself.
func RecalculateBalanceTx(ctx context.Context, tx TxRepository, partnerID int64) error {
	return recalculateBalanceTx(ctx, tx, partnerID)
}

func recalculateBalanceTx(ctx context.Context, tx TxRepository, partnerID int64) error {
	if _, err := tx.GetPartnerForUpdate(ctx, partnerID); err != nil {
		return err
	}
	exposure, err := tx.PartnerDocumentExposure(ctx, partnerID)
	if err != nil {
		return err
	}
	transactions, err := tx.ListActivePartnerTransactions(ctx, partnerID)
	if err != nil {
		return err
	}
	return tx.UpdatePartnerBalance(ctx, partnerID, ProjectPartnerBalance(exposure, transactions))
}
