package treasury

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradecore-erp/tradecore/internal/shared"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memoryTreasuryRepo struct {
	mu           sync.Mutex
	treasuries   map[int64]*Treasury
	partners     map[int64]*Partner
	transactions []Transaction
	exposure     map[int64]decimal.Decimal
	nextTxID     int64
}

func newMemoryTreasuryRepo() *memoryTreasuryRepo {
	return &memoryTreasuryRepo{
		treasuries: make(map[int64]*Treasury),
		partners:   make(map[int64]*Partner),
		exposure:   make(map[int64]decimal.Decimal),
	}
}

func (r *memoryTreasuryRepo) addTreasury(t Treasury) {
	cp := t
	r.treasuries[t.ID] = &cp
}

func (r *memoryTreasuryRepo) addPartner(p Partner) {
	cp := p
	r.partners[p.ID] = &cp
}

func (r *memoryTreasuryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, r)
}

func (r *memoryTreasuryRepo) GetTreasuryForUpdate(ctx context.Context, id int64) (Treasury, error) {
	t, ok := r.treasuries[id]
	if !ok {
		return Treasury{}, ErrTreasuryNotFound
	}
	return *t, nil
}

func (r *memoryTreasuryRepo) ActiveBalance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range r.transactions {
		if t.TreasuryID == treasuryID && !t.Deleted {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r *memoryTreasuryRepo) Balance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	return r.ActiveBalance(ctx, treasuryID)
}

func (r *memoryTreasuryRepo) InsertTransaction(ctx context.Context, transaction Transaction) (int64, error) {
	r.nextTxID++
	transaction.ID = r.nextTxID
	r.transactions = append(r.transactions, transaction)
	return transaction.ID, nil
}

func (r *memoryTreasuryRepo) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	for _, t := range r.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (r *memoryTreasuryRepo) SoftDeleteTransaction(ctx context.Context, id int64) error {
	for i := range r.transactions {
		if r.transactions[i].ID == id {
			r.transactions[i].Deleted = true
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (r *memoryTreasuryRepo) GetPartnerForUpdate(ctx context.Context, id int64) (Partner, error) {
	p, ok := r.partners[id]
	if !ok {
		return Partner{}, ErrPartnerNotFound
	}
	return *p, nil
}

func (r *memoryTreasuryRepo) GetPartner(ctx context.Context, id int64) (Partner, error) {
	return r.GetPartnerForUpdate(ctx, id)
}

func (r *memoryTreasuryRepo) UpdatePartnerBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	p, ok := r.partners[id]
	if !ok {
		return ErrPartnerNotFound
	}
	p.CurrentBalance = balance
	return nil
}

func (r *memoryTreasuryRepo) UpdatePartnerEquity(ctx context.Context, id int64, capital, percentage decimal.Decimal) error {
	p, ok := r.partners[id]
	if !ok {
		return ErrPartnerNotFound
	}
	p.CurrentCapital = capital
	p.EquityPercentage = percentage
	return nil
}

func (r *memoryTreasuryRepo) ListShareholdersForUpdate(ctx context.Context) ([]Partner, error) {
	var out []Partner
	for _, p := range r.partners {
		if p.Type == PartnerShareholder {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryTreasuryRepo) ListActivePartnerTransactions(ctx context.Context, partnerID int64) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.transactions {
		if t.PartnerID == partnerID && !t.Deleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryTreasuryRepo) PartnerDocumentExposure(ctx context.Context, partnerID int64) (decimal.Decimal, error) {
	return r.exposure[partnerID], nil
}

func (r *memoryTreasuryRepo) ListPartnerIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id := range r.partners {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryTreasuryRepo) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.transactions {
		if filter.TreasuryID != 0 && t.TreasuryID != filter.TreasuryID {
			continue
		}
		if filter.PartnerID != 0 && t.PartnerID != filter.PartnerID {
			continue
		}
		if t.Deleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func TestBalanceSumsActiveTransactions(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Name: "Main", Type: TreasuryCash})
	svc := NewService(repo, Ledger{}, nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 1, Type: TxIncome, Amount: dec("1000")}, 1)
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 1, Type: TxExpense, Amount: dec("-250")}, 1)
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("750")), "got %s", balance)
}

func TestOutflowRejectedWhenBalanceInsufficient(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 2, Name: "Drawer", Type: TreasuryCash})
	svc := NewService(repo, Ledger{}, nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 2, Type: TxIncome, Amount: dec("100")}, 1)
	require.NoError(t, err)

	_, err = svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 2, Type: TxExpense, Amount: dec("-100.0001")}, 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Contains(t, err.Error(), "treasury 2")

	balance, err := svc.Balance(ctx, 2)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("100")), "failed outflow must leave no partial effect")
}

func TestUncheckedTypesSkipSufficiencyGuard(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Type: TreasuryBank})
	ledger := NewLedger(map[string]struct{}{"PROFIT_ALLOCATION": {}})
	svc := NewService(repo, ledger, nil)

	// A negative profit allocation may exceed the cash balance: it is a
	// bookkeeping entry, not a cash withdrawal.
	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		TreasuryID: 1, Type: TxProfitAllocation, Amount: dec("-5000"),
	}, 1)
	require.NoError(t, err)
}

func TestSoftDeletedTransactionsExcludedFromBalance(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Type: TreasuryCash})
	svc := NewService(repo, Ledger{}, nil)
	ctx := context.Background()

	kept, err := svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 1, Type: TxIncome, Amount: dec("300")}, 1)
	require.NoError(t, err)
	voided, err := svc.RecordTransaction(ctx, TransactionInput{TreasuryID: 1, Type: TxIncome, Amount: dec("200")}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.VoidTransaction(ctx, voided.ID, 1, "duplicate entry"))

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("300")), "got %s", balance)

	// The voided row must survive for audit queries.
	all, err := svc.Statement(ctx, TransactionFilter{TreasuryID: 1, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	active, err := svc.Statement(ctx, TransactionFilter{TreasuryID: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, kept.ID, active[0].ID)
}

func TestRecalculateBalanceIsIdempotent(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Type: TreasuryCash})
	repo.addPartner(Partner{ID: 5, Name: "Acme", Type: PartnerCustomer})
	repo.exposure[5] = dec("1200")
	svc := NewService(repo, Ledger{}, nil)
	ctx := context.Background()

	// Standalone collection not tied to an invoice reduces the receivable.
	_, err := svc.RecordTransaction(ctx, TransactionInput{
		TreasuryID: 1, Type: TxCollection, Amount: dec("200"), PartnerID: 5,
	}, 1)
	require.NoError(t, err)

	first, err := svc.RecalculateBalance(ctx, 5)
	require.NoError(t, err)
	second, err := svc.RecalculateBalance(ctx, 5)
	require.NoError(t, err)
	require.True(t, first.Equal(second))
	require.True(t, first.Equal(dec("1000")), "got %s", first)
}

func TestRecalculateAllBalancesSweepsEveryPartner(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Type: TreasuryCash})
	repo.addPartner(Partner{ID: 5, Name: "Acme", Type: PartnerCustomer})
	repo.addPartner(Partner{ID: 6, Name: "Globex", Type: PartnerCustomer})
	repo.addPartner(Partner{ID: 7, Name: "Initech", Type: PartnerSupplier})
	repo.exposure[5] = dec("1200")
	repo.exposure[6] = dec("300")
	svc := NewService(repo, Ledger{}, nil)

	recalculated, err := svc.RecalculateAllBalances(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, recalculated)
	require.True(t, repo.partners[5].CurrentBalance.Equal(dec("1200")))
	require.True(t, repo.partners[6].CurrentBalance.Equal(dec("300")))
	require.True(t, repo.partners[7].CurrentBalance.Equal(decimal.Zero))
}

func TestProjectorSkipsInvoiceLinkedSettlements(t *testing.T) {
	exposure := dec("900")
	transactions := []Transaction{
		// Already reflected in the invoice remainder; must not double count.
		{Type: TxCollection, Amount: dec("300"), Ref: shared.DocRef{Kind: shared.RefSalesInvoice, ID: 1}},
		// Standalone loan from the partner: we owe them.
		{Type: TxPartnerLoanReceipt, Amount: dec("500")},
		// Capital events never touch the receivable balance.
		{Type: TxCapitalDeposit, Amount: dec("10000")},
		// Soft-deleted rows are excluded everywhere.
		{Type: TxCollection, Amount: dec("50"), Deleted: true},
	}
	balance := ProjectPartnerBalance(exposure, transactions)
	require.True(t, balance.Equal(dec("400")), "got %s", balance)
}

func TestUnknownTransactionTypeRejected(t *testing.T) {
	repo := newMemoryTreasuryRepo()
	repo.addTreasury(Treasury{ID: 1, Type: TreasuryCash})
	svc := NewService(repo, Ledger{}, nil)

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		TreasuryID: 1, Type: "GIFT", Amount: dec("5"),
	}, 1)
	require.ErrorIs(t, err, ErrUnknownTransactionType)
}
