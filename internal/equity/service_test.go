package equity

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradecore-erp/tradecore/internal/treasury"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type assetContribution struct {
	partnerID int64
	amount    decimal.Decimal
	note      string
}

type memoryEquityRepo struct {
	treasuries   map[int64]*treasury.Treasury
	partners     map[int64]*treasury.Partner
	transactions []treasury.Transaction
	nextTxID     int64

	periods      map[int64]*Period
	locks        map[string]*PeriodPartner
	revenue      decimal.Decimal
	expenses     decimal.Decimal
	assets       []assetContribution
	nextPeriodID int64
}

func newMemoryEquityRepo() *memoryEquityRepo {
	return &memoryEquityRepo{
		treasuries: make(map[int64]*treasury.Treasury),
		partners:   make(map[int64]*treasury.Partner),
		periods:    make(map[int64]*Period),
		locks:      make(map[string]*PeriodPartner),
	}
}

func lockKey(periodID, partnerID int64) string {
	return fmt.Sprintf("%d/%d", periodID, partnerID)
}

func (r *memoryEquityRepo) addTreasury(t treasury.Treasury) {
	cp := t
	r.treasuries[t.ID] = &cp
}

func (r *memoryEquityRepo) addPartner(p treasury.Partner) {
	cp := p
	r.partners[p.ID] = &cp
}

func (r *memoryEquityRepo) seedCash(treasuryID int64, amount decimal.Decimal) {
	r.nextTxID++
	r.transactions = append(r.transactions, treasury.Transaction{
		ID: r.nextTxID, TreasuryID: treasuryID, Type: treasury.TxIncome, Amount: amount,
	})
}

func (r *memoryEquityRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return fn(ctx, r)
}

func (r *memoryEquityRepo) Periods() TxRepository       { return r }
func (r *memoryEquityRepo) Cash() treasury.TxRepository { return r }

func (r *memoryEquityRepo) CurrentPeriod(ctx context.Context) (Period, []PeriodPartner, error) {
	for _, p := range r.periods {
		if p.Status == PeriodStatusOpen {
			return *p, r.listLocks(p.ID), nil
		}
	}
	return Period{}, nil, ErrNoOpenPeriod
}

func (r *memoryEquityRepo) listLocks(periodID int64) []PeriodPartner {
	var out []PeriodPartner
	for _, lock := range r.locks {
		if lock.PeriodID == periodID {
			out = append(out, *lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartnerID < out[j].PartnerID })
	return out
}

func (r *memoryEquityRepo) GetOpenPeriodForUpdate(ctx context.Context) (Period, error) {
	for _, p := range r.periods {
		if p.Status == PeriodStatusOpen {
			return *p, nil
		}
	}
	return Period{}, ErrNoOpenPeriod
}

func (r *memoryEquityRepo) MaxPeriodNumber(ctx context.Context) (int, error) {
	max := 0
	for _, p := range r.periods {
		if p.Number > max {
			max = p.Number
		}
	}
	return max, nil
}

func (r *memoryEquityRepo) InsertPeriod(ctx context.Context, period Period) (int64, error) {
	r.nextPeriodID++
	period.ID = r.nextPeriodID
	r.periods[period.ID] = &period
	return period.ID, nil
}

func (r *memoryEquityRepo) ClosePeriod(ctx context.Context, id int64, end time.Time, revenue, expenses, net decimal.Decimal) error {
	p, ok := r.periods[id]
	if !ok || p.Status != PeriodStatusOpen {
		return ErrNoOpenPeriod
	}
	p.Status = PeriodStatusClosed
	p.EndDate = end
	p.TotalRevenue = revenue
	p.TotalExpenses = expenses
	p.NetProfit = net
	return nil
}

func (r *memoryEquityRepo) GetPeriodPartner(ctx context.Context, periodID, partnerID int64) (PeriodPartner, error) {
	lock, ok := r.locks[lockKey(periodID, partnerID)]
	if !ok {
		return PeriodPartner{}, ErrPeriodPartnerNotFound
	}
	return *lock, nil
}

func (r *memoryEquityRepo) UpsertPeriodPartner(ctx context.Context, row PeriodPartner) error {
	cp := row
	r.locks[lockKey(row.PeriodID, row.PartnerID)] = &cp
	return nil
}

func (r *memoryEquityRepo) ListPeriodPartners(ctx context.Context, periodID int64) ([]PeriodPartner, error) {
	return r.listLocks(periodID), nil
}

func (r *memoryEquityRepo) SetProfitAllocated(ctx context.Context, periodID, partnerID int64, allocated decimal.Decimal) error {
	lock, ok := r.locks[lockKey(periodID, partnerID)]
	if !ok {
		return ErrPeriodPartnerNotFound
	}
	lock.ProfitAllocated = allocated
	return nil
}

func (r *memoryEquityRepo) SumProfit(ctx context.Context, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return r.revenue, r.expenses, nil
}

func (r *memoryEquityRepo) InsertAssetContribution(ctx context.Context, partnerID int64, amount decimal.Decimal, note string, at time.Time) (int64, error) {
	r.assets = append(r.assets, assetContribution{partnerID: partnerID, amount: amount, note: note})
	return int64(len(r.assets)), nil
}

func (r *memoryEquityRepo) GetTreasuryForUpdate(ctx context.Context, id int64) (treasury.Treasury, error) {
	t, ok := r.treasuries[id]
	if !ok {
		return treasury.Treasury{}, treasury.ErrTreasuryNotFound
	}
	return *t, nil
}

func (r *memoryEquityRepo) ActiveBalance(ctx context.Context, treasuryID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range r.transactions {
		if t.TreasuryID == treasuryID && !t.Deleted {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r *memoryEquityRepo) InsertTransaction(ctx context.Context, transaction treasury.Transaction) (int64, error) {
	r.nextTxID++
	transaction.ID = r.nextTxID
	r.transactions = append(r.transactions, transaction)
	return transaction.ID, nil
}

func (r *memoryEquityRepo) GetTransactionForUpdate(ctx context.Context, id int64) (treasury.Transaction, error) {
	for _, t := range r.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return treasury.Transaction{}, treasury.ErrTransactionNotFound
}

func (r *memoryEquityRepo) SoftDeleteTransaction(ctx context.Context, id int64) error {
	for i := range r.transactions {
		if r.transactions[i].ID == id {
			r.transactions[i].Deleted = true
			return nil
		}
	}
	return treasury.ErrTransactionNotFound
}

func (r *memoryEquityRepo) GetPartnerForUpdate(ctx context.Context, id int64) (treasury.Partner, error) {
	p, ok := r.partners[id]
	if !ok {
		return treasury.Partner{}, treasury.ErrPartnerNotFound
	}
	return *p, nil
}

func (r *memoryEquityRepo) UpdatePartnerBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	p, ok := r.partners[id]
	if !ok {
		return treasury.ErrPartnerNotFound
	}
	p.CurrentBalance = balance
	return nil
}

func (r *memoryEquityRepo) UpdatePartnerEquity(ctx context.Context, id int64, capital, percentage decimal.Decimal) error {
	p, ok := r.partners[id]
	if !ok {
		return treasury.ErrPartnerNotFound
	}
	p.CurrentCapital = capital
	p.EquityPercentage = percentage
	return nil
}

func (r *memoryEquityRepo) ListShareholdersForUpdate(ctx context.Context) ([]treasury.Partner, error) {
	var out []treasury.Partner
	for _, p := range r.partners {
		if p.Type == treasury.PartnerShareholder {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryEquityRepo) ListActivePartnerTransactions(ctx context.Context, partnerID int64) ([]treasury.Transaction, error) {
	var out []treasury.Transaction
	for _, t := range r.transactions {
		if t.PartnerID == partnerID && !t.Deleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryEquityRepo) PartnerDocumentExposure(ctx context.Context, partnerID int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newEquityService(repo *memoryEquityRepo) *Service {
	return NewService(repo, treasury.Ledger{}, nil, nil)
}

func TestInjectCapitalCreatesFirstPeriodAndRebalances(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addTreasury(treasury.Treasury{ID: 1, Name: "Main", Type: treasury.TreasuryCash})
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder})
	repo.addPartner(treasury.Partner{ID: 11, Name: "Bashir", Type: treasury.PartnerShareholder})
	svc := newEquityService(repo)
	ctx := context.Background()

	_, err := svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 10, Amount: dec("60000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)
	_, err = svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 11, Amount: dec("40000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)

	period, locks, err := svc.CurrentPeriod(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, period.Number)
	require.Len(t, locks, 2)
	require.True(t, locks[0].EquityPct.Equal(dec("60")), "got %s", locks[0].EquityPct)
	require.True(t, locks[1].EquityPct.Equal(dec("40")), "got %s", locks[1].EquityPct)

	require.True(t, repo.partners[10].CurrentCapital.Equal(dec("60000")))
	require.True(t, repo.partners[11].CurrentCapital.Equal(dec("40000")))

	balance, err := repo.ActiveBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("100000")), "got %s", balance)
}

func TestInjectCapitalAssetKindSkipsCash(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder})
	svc := newEquityService(repo)
	ctx := context.Background()

	_, err := svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 10, Amount: dec("5000"), Kind: CapitalAsset, Note: "delivery van"})
	require.NoError(t, err)

	require.Empty(t, repo.transactions)
	require.Len(t, repo.assets, 1)
	require.True(t, repo.partners[10].CurrentCapital.Equal(dec("5000")))
	require.True(t, repo.partners[10].EquityPercentage.Equal(dec("100")))
}

func TestInjectCapitalRejectsNonShareholder(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addPartner(treasury.Partner{ID: 20, Name: "Retail Co", Type: treasury.PartnerCustomer})
	svc := newEquityService(repo)

	_, err := svc.InjectCapital(context.Background(), InjectCapitalInput{PartnerID: 20, Amount: dec("100"), Kind: CapitalAsset})
	require.ErrorIs(t, err, ErrNotShareholder)
}

func TestDrawingRequiresOpenPeriod(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addTreasury(treasury.Treasury{ID: 1, Name: "Main", Type: treasury.TreasuryCash})
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder, CurrentCapital: dec("1000")})
	svc := newEquityService(repo)

	err := svc.RecordDrawing(context.Background(), DrawingInput{PartnerID: 10, Amount: dec("100"), TreasuryID: 1})
	require.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestDrawingKeepsPercentagesFrozen(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addTreasury(treasury.Treasury{ID: 1, Name: "Main", Type: treasury.TreasuryCash})
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder})
	repo.addPartner(treasury.Partner{ID: 11, Name: "Bashir", Type: treasury.PartnerShareholder})
	svc := newEquityService(repo)
	ctx := context.Background()

	_, err := svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 10, Amount: dec("60000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)
	_, err = svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 11, Amount: dec("40000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)

	err = svc.RecordDrawing(ctx, DrawingInput{PartnerID: 10, Amount: dec("10000"), TreasuryID: 1})
	require.NoError(t, err)

	require.True(t, repo.partners[10].CurrentCapital.Equal(dec("50000")))
	require.True(t, repo.partners[10].EquityPercentage.Equal(dec("60")), "got %s", repo.partners[10].EquityPercentage)
	require.True(t, repo.partners[11].EquityPercentage.Equal(dec("40")))

	_, locks, err := svc.CurrentPeriod(ctx)
	require.NoError(t, err)
	require.True(t, locks[0].DrawingsTaken.Equal(dec("10000")))
}

func TestClosePeriodAllocatesByFrozenPercentages(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addTreasury(treasury.Treasury{ID: 1, Name: "Main", Type: treasury.TreasuryCash})
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder})
	repo.addPartner(treasury.Partner{ID: 11, Name: "Bashir", Type: treasury.PartnerShareholder})
	svc := newEquityService(repo)
	ctx := context.Background()

	_, err := svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 10, Amount: dec("60000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)
	_, err = svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 11, Amount: dec("40000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)

	repo.revenue = dec("50000")
	repo.expenses = dec("20000")

	closed, err := svc.ClosePeriodAndAllocate(ctx, ClosePeriodInput{TreasuryID: 1})
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, closed.Status)
	require.True(t, closed.NetProfit.Equal(dec("30000")))

	require.True(t, repo.partners[10].CurrentCapital.Equal(dec("78000")), "got %s", repo.partners[10].CurrentCapital)
	require.True(t, repo.partners[11].CurrentCapital.Equal(dec("52000")), "got %s", repo.partners[11].CurrentCapital)

	var allocs []decimal.Decimal
	for _, tx := range repo.transactions {
		if tx.Type == treasury.TxProfitAllocation {
			allocs = append(allocs, tx.Amount)
		}
	}
	require.Len(t, allocs, 2)
	require.True(t, allocs[0].Equal(dec("18000")), "got %s", allocs[0])
	require.True(t, allocs[1].Equal(dec("12000")), "got %s", allocs[1])

	next, locks, err := svc.CurrentPeriod(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, next.Number)
	require.Len(t, locks, 2)
	require.True(t, locks[0].CapitalAtStart.Equal(dec("78000")))
	require.True(t, locks[0].EquityPct.Equal(dec("60")))
}

func TestClosePeriodSkipsZeroAllocations(t *testing.T) {
	repo := newMemoryEquityRepo()
	repo.addTreasury(treasury.Treasury{ID: 1, Name: "Main", Type: treasury.TreasuryCash})
	repo.addPartner(treasury.Partner{ID: 10, Name: "Aline", Type: treasury.PartnerShareholder})
	svc := newEquityService(repo)
	ctx := context.Background()

	_, err := svc.InjectCapital(ctx, InjectCapitalInput{PartnerID: 10, Amount: dec("1000"), Kind: CapitalCash, TreasuryID: 1})
	require.NoError(t, err)

	closed, err := svc.ClosePeriodAndAllocate(ctx, ClosePeriodInput{TreasuryID: 1})
	require.NoError(t, err)
	require.True(t, closed.NetProfit.IsZero())

	for _, tx := range repo.transactions {
		require.NotEqual(t, treasury.TxProfitAllocation, tx.Type)
	}
}

func TestAllocateProfitRemainderGoesToLargestShare(t *testing.T) {
	locks := []PeriodPartner{
		{PartnerID: 1, EquityPct: dec("33.333333333333")},
		{PartnerID: 2, EquityPct: dec("33.333333333333")},
		{PartnerID: 3, EquityPct: dec("33.333333333333")},
	}
	allocs := AllocateProfit(dec("100"), locks)
	require.Len(t, allocs, 3)

	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a)
	}
	require.True(t, sum.Equal(dec("100")), "got %s", sum)
	require.True(t, allocs[0].Equal(dec("33.3334")), "got %s", allocs[0])
	require.True(t, allocs[1].Equal(dec("33.3333")))
	require.True(t, allocs[2].Equal(dec("33.3333")))
}

func TestAllocateProfitExactSplit(t *testing.T) {
	locks := []PeriodPartner{
		{PartnerID: 1, EquityPct: dec("60")},
		{PartnerID: 2, EquityPct: dec("40")},
	}
	allocs := AllocateProfit(dec("30000"), locks)
	require.True(t, allocs[0].Equal(dec("18000")))
	require.True(t, allocs[1].Equal(dec("12000")))
}
