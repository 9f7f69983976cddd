package equity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore-erp/tradecore/internal/money"
	"github.com/tradecore-erp/tradecore/internal/shared"
	"github.com/tradecore-erp/tradecore/internal/treasury"
)

// TxRepository exposes transactional period operations.
type TxRepository interface {
	GetOpenPeriodForUpdate(ctx context.Context) (Period, error)
	MaxPeriodNumber(ctx context.Context) (int, error)
	InsertPeriod(ctx context.Context, period Period) (int64, error)
	ClosePeriod(ctx context.Context, id int64, end time.Time, revenue, expenses, net decimal.Decimal) error
	GetPeriodPartner(ctx context.Context, periodID, partnerID int64) (PeriodPartner, error)
	UpsertPeriodPartner(ctx context.Context, row PeriodPartner) error
	ListPeriodPartners(ctx context.Context, periodID int64) ([]PeriodPartner, error)
	SetProfitAllocated(ctx context.Context, periodID, partnerID int64, allocated decimal.Decimal) error
	SumProfit(ctx context.Context, from, to time.Time) (revenue, expenses decimal.Decimal, err error)
	InsertAssetContribution(ctx context.Context, partnerID int64, amount decimal.Decimal, note string, at time.Time) (int64, error)
}

// ErrPeriodPartnerNotFound indicates a missing period lock row.
var ErrPeriodPartnerNotFound = errors.New("equity: period partner not found")

// Tx bundles the repositories sharing one unit of work: capital events
// write both period rows and treasury transactions atomically.
type Tx interface {
	Periods() TxRepository
	Cash() treasury.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	CurrentPeriod(ctx context.Context) (Period, []PeriodPartner, error)
}

// Locker guards the open-period critical section across instances. The
// period row lock serialises within one database; the distributed lock
// covers multi-instance deployments.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the equity period lifecycle and capital events.
type Service struct {
	repo   RepositoryPort
	cash   treasury.Ledger
	locker Locker
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, cash treasury.Ledger, locker Locker, audit AuditPort) *Service {
	return &Service{repo: repo, cash: cash, locker: locker, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

const lockTTL = 30 * time.Second

func (s *Service) withPeriodLock(ctx context.Context, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	period, _, err := s.repo.CurrentPeriod(ctx)
	if err != nil && !errors.Is(err, ErrNoOpenPeriod) {
		return err
	}
	release, err := s.locker.Acquire(ctx, shared.EquityLockKey(period.ID), lockTTL)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InjectCapital increases a shareholder's capital and recomputes every
// shareholder's equity percentage. The very first capital event
// auto-creates period #1.
func (s *Service) InjectCapital(ctx context.Context, in InjectCapitalInput) (PeriodPartner, error) {
	if !money.IsPositive(in.Amount) {
		return PeriodPartner{}, ErrInvalidAmount
	}
	switch in.Kind {
	case CapitalCash, CapitalAsset, CapitalEquity:
	default:
		return PeriodPartner{}, ErrInvalidCapitalKind
	}
	if in.Kind == CapitalCash && in.TreasuryID == 0 {
		return PeriodPartner{}, errors.New("equity: treasury required for cash injections")
	}
	var lockRow PeriodPartner
	err := s.withPeriodLock(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			partner, err := tx.Cash().GetPartnerForUpdate(ctx, in.PartnerID)
			if err != nil {
				return err
			}
			if partner.Type != treasury.PartnerShareholder {
				return ErrNotShareholder
			}
			period, err := s.ensureOpenPeriod(ctx, tx.Periods())
			if err != nil {
				return err
			}
			ref := shared.DocRef{Kind: shared.RefCapitalEvent, ID: period.ID}
			switch in.Kind {
			case CapitalCash:
				_, err = s.cash.Record(ctx, tx.Cash(), treasury.TransactionInput{
					TreasuryID:  in.TreasuryID,
					Type:        treasury.TxCapitalDeposit,
					Amount:      in.Amount,
					Description: in.Note,
					PartnerID:   in.PartnerID,
					Ref:         ref,
					OccurredAt:  s.now().UTC(),
				})
				if err != nil {
					return err
				}
			case CapitalAsset:
				if _, err := tx.Periods().InsertAssetContribution(ctx, in.PartnerID, in.Amount, in.Note, s.now().UTC()); err != nil {
					return err
				}
			}
			capitalBefore := partner.CurrentCapital
			shareholders, err := s.rebalancePercentages(ctx, tx.Cash(), in.PartnerID, capitalBefore.Add(in.Amount))
			if err != nil {
				return err
			}
			// Every shareholder's frozen percentage moves, so every
			// lock row in the open period is refreshed, not just the
			// injector's.
			for _, sh := range shareholders {
				row, err := tx.Periods().GetPeriodPartner(ctx, period.ID, sh.ID)
				if errors.Is(err, ErrPeriodPartnerNotFound) {
					capitalAtStart := sh.CurrentCapital
					if sh.ID == in.PartnerID {
						capitalAtStart = capitalBefore
					}
					row = PeriodPartner{PeriodID: period.ID, PartnerID: sh.ID, CapitalAtStart: capitalAtStart}
				} else if err != nil {
					return err
				}
				row.EquityPct = sh.EquityPercentage
				if sh.ID == in.PartnerID {
					row.CapitalInjected = row.CapitalInjected.Add(in.Amount)
					lockRow = row
				}
				if err := tx.Periods().UpsertPeriodPartner(ctx, row); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return PeriodPartner{}, err
	}
	s.auditEvent(ctx, in.ActorID, "equity:inject", in.PartnerID, map[string]any{
		"amount": in.Amount.String(),
		"kind":   string(in.Kind),
	})
	return lockRow, nil
}

// RecordDrawing decreases a shareholder's capital and records the cash
// withdrawal. Percentages are not recomputed on drawings: ratios move
// only on injections.
func (s *Service) RecordDrawing(ctx context.Context, in DrawingInput) error {
	if !money.IsPositive(in.Amount) {
		return ErrInvalidAmount
	}
	if in.TreasuryID == 0 {
		return errors.New("equity: treasury required for drawings")
	}
	err := s.withPeriodLock(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			partner, err := tx.Cash().GetPartnerForUpdate(ctx, in.PartnerID)
			if err != nil {
				return err
			}
			if partner.Type != treasury.PartnerShareholder {
				return ErrNotShareholder
			}
			period, err := tx.Periods().GetOpenPeriodForUpdate(ctx)
			if err != nil {
				return err
			}
			_, err = s.cash.Record(ctx, tx.Cash(), treasury.TransactionInput{
				TreasuryID:  in.TreasuryID,
				Type:        treasury.TxPartnerDrawing,
				Amount:      in.Amount.Neg(),
				Description: in.Note,
				PartnerID:   in.PartnerID,
				Ref:         shared.DocRef{Kind: shared.RefCapitalEvent, ID: period.ID},
				OccurredAt:  s.now().UTC(),
			})
			if err != nil {
				return err
			}
			newCapital := partner.CurrentCapital.Sub(in.Amount)
			if err := tx.Cash().UpdatePartnerEquity(ctx, in.PartnerID, newCapital, partner.EquityPercentage); err != nil {
				return err
			}
			lockRow, err := tx.Periods().GetPeriodPartner(ctx, period.ID, in.PartnerID)
			if errors.Is(err, ErrPeriodPartnerNotFound) {
				lockRow = PeriodPartner{
					PeriodID:       period.ID,
					PartnerID:      in.PartnerID,
					CapitalAtStart: partner.CurrentCapital,
					EquityPct:      partner.EquityPercentage,
				}
			} else if err != nil {
				return err
			}
			lockRow.DrawingsTaken = lockRow.DrawingsTaken.Add(in.Amount)
			return tx.Periods().UpsertPeriodPartner(ctx, lockRow)
		})
	})
	if err != nil {
		return err
	}
	s.auditEvent(ctx, in.ActorID, "equity:drawing", in.PartnerID, map[string]any{
		"amount": in.Amount.String(),
	})
	return nil
}

// ClosePeriodAndAllocate sums revenue and expenses over the period,
// allocates the net profit by the frozen percentages and opens the next
// period. The rounding remainder lands on the largest-share partner so
// the allocations sum exactly to the net profit.
func (s *Service) ClosePeriodAndAllocate(ctx context.Context, in ClosePeriodInput) (Period, error) {
	if in.TreasuryID == 0 {
		return Period{}, errors.New("equity: treasury required for profit allocations")
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	var closed Period
	err := s.withPeriodLock(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			period, err := tx.Periods().GetOpenPeriodForUpdate(ctx)
			if err != nil {
				return err
			}
			revenue, expenses, err := tx.Periods().SumProfit(ctx, period.StartDate, asOf)
			if err != nil {
				return err
			}
			net := revenue.Sub(expenses)
			locks, err := tx.Periods().ListPeriodPartners(ctx, period.ID)
			if err != nil {
				return err
			}
			allocations := AllocateProfit(net, locks)
			for i, lock := range locks {
				alloc := allocations[i]
				if err := tx.Periods().SetProfitAllocated(ctx, period.ID, lock.PartnerID, alloc); err != nil {
					return err
				}
				if !alloc.IsZero() {
					_, err = s.cash.Record(ctx, tx.Cash(), treasury.TransactionInput{
						TreasuryID:  in.TreasuryID,
						Type:        treasury.TxProfitAllocation,
						Amount:      alloc,
						Description: fmt.Sprintf("profit allocation period %d: %s", period.Number, in.Note),
						PartnerID:   lock.PartnerID,
						Ref:         shared.DocRef{Kind: shared.RefCapitalEvent, ID: period.ID},
						OccurredAt:  asOf,
					})
					if err != nil {
						return err
					}
				}
				partner, err := tx.Cash().GetPartnerForUpdate(ctx, lock.PartnerID)
				if err != nil {
					return err
				}
				newCapital := partner.CurrentCapital.Add(alloc)
				if err := tx.Cash().UpdatePartnerEquity(ctx, lock.PartnerID, newCapital, partner.EquityPercentage); err != nil {
					return err
				}
			}
			if err := tx.Periods().ClosePeriod(ctx, period.ID, asOf, revenue, expenses, net); err != nil {
				return err
			}
			closed = period
			closed.Status = PeriodStatusClosed
			closed.EndDate = asOf
			closed.TotalRevenue = revenue
			closed.TotalExpenses = expenses
			closed.NetProfit = net

			// Open the successor, pre-seeded with every current
			// shareholder at their just-updated capital.
			next := Period{Number: period.Number + 1, StartDate: asOf, Status: PeriodStatusOpen}
			nextID, err := tx.Periods().InsertPeriod(ctx, next)
			if err != nil {
				return err
			}
			shareholders, err := tx.Cash().ListShareholdersForUpdate(ctx)
			if err != nil {
				return err
			}
			for _, sh := range shareholders {
				row := PeriodPartner{
					PeriodID:       nextID,
					PartnerID:      sh.ID,
					EquityPct:      sh.EquityPercentage,
					CapitalAtStart: sh.CurrentCapital,
				}
				if err := tx.Periods().UpsertPeriodPartner(ctx, row); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return Period{}, err
	}
	s.auditEvent(ctx, in.ActorID, "equity:close", closed.ID, map[string]any{
		"period_number": closed.Number,
		"net_profit":    closed.NetProfit.String(),
	})
	return closed, nil
}

// CurrentPeriod returns the open period and its partner locks.
func (s *Service) CurrentPeriod(ctx context.Context) (Period, []PeriodPartner, error) {
	return s.repo.CurrentPeriod(ctx)
}

// AllocateProfit splits net by each lock's frozen percentage, rounding
// to the ledger scale. The remainder from non-terminating splits is
// absorbed by the largest-share partner, so the slice always sums to
// exactly the rounded net.
func AllocateProfit(net decimal.Decimal, locks []PeriodPartner) []decimal.Decimal {
	allocations := make([]decimal.Decimal, len(locks))
	if len(locks) == 0 {
		return allocations
	}
	net = money.Round(net)
	sum := decimal.Zero
	largest := 0
	for i, lock := range locks {
		allocations[i] = money.Round(money.Percent(net, lock.EquityPct))
		sum = sum.Add(allocations[i])
		if lock.EquityPct.GreaterThan(locks[largest].EquityPct) {
			largest = i
		}
	}
	remainder := net.Sub(sum)
	if !remainder.IsZero() {
		allocations[largest] = allocations[largest].Add(remainder)
	}
	return allocations
}

func (s *Service) ensureOpenPeriod(ctx context.Context, periods TxRepository) (Period, error) {
	period, err := periods.GetOpenPeriodForUpdate(ctx)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, ErrNoOpenPeriod) {
		return Period{}, err
	}
	maxNumber, err := periods.MaxPeriodNumber(ctx)
	if err != nil {
		return Period{}, err
	}
	period = Period{Number: maxNumber + 1, StartDate: s.now().UTC(), Status: PeriodStatusOpen}
	id, err := periods.InsertPeriod(ctx, period)
	if err != nil {
		return Period{}, err
	}
	period.ID = id
	return period, nil
}

func (s *Service) rebalancePercentages(ctx context.Context, cash treasury.TxRepository, partnerID int64, newCapital decimal.Decimal) ([]treasury.Partner, error) {
	shareholders, err := cash.ListShareholdersForUpdate(ctx)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	found := false
	for i := range shareholders {
		if shareholders[i].ID == partnerID {
			shareholders[i].CurrentCapital = newCapital
			found = true
		}
		total = total.Add(shareholders[i].CurrentCapital)
	}
	if !found {
		return nil, treasury.ErrPartnerNotFound
	}
	hundred := decimal.NewFromInt(100)
	for i := range shareholders {
		pct := decimal.Zero
		if total.Sign() > 0 {
			pct = shareholders[i].CurrentCapital.Mul(hundred).Div(total)
		}
		shareholders[i].EquityPercentage = pct
		if err := cash.UpdatePartnerEquity(ctx, shareholders[i].ID, shareholders[i].CurrentCapital, pct); err != nil {
			return nil, err
		}
	}
	return shareholders, nil
}

func (s *Service) auditEvent(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "equity",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
