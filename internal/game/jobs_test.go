package game

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrueInterest(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "rich", All)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "poor", Exactly(10))
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, "none")
	require.NoError(t, err)

	report, err := svc.AccrueInterest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, int64(2), report.Paid)

	rich, _ := svc.Balance(ctx, "rich")
	poor, _ := svc.Balance(ctx, "poor")
	assert.Equal(t, int64(102), rich.Bank)
	assert.Equal(t, int64(10), poor.Bank, "floor(10*0.02) is zero and skipped")
}

func TestAccrueInterestIsAllOrNothing(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Deposit(ctx, id, All)
		require.NoError(t, err)
	}
	blob.FailPut = func(string) error { return errors.New("offline") }

	_, err := svc.AccrueInterest(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	for _, id := range []string{"a", "b", "c"} {
		a, _ := svc.Balance(ctx, id)
		assert.Equal(t, int64(100), a.Bank, id)
	}

	blob.FailPut = nil
	report, err := svc.AccrueInterest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Accounts)
}

func TestPayDividends(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingWallet = 1000
	svc, _, _ := newTestService(t, WithSettings(settings))
	ctx := context.Background()

	// 4 x 250 = 1000 in stock, 1% dividend.
	_, err := svc.BuyStock(ctx, "holder", "Fwizfinance", 4)
	require.NoError(t, err)
	// 1 x 100 pays floor(1) = 1.
	_, err = svc.BuyStock(ctx, "small", "Oreobux", 1)
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, "cash")
	require.NoError(t, err)

	report, err := svc.PayDividends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accounts)
	assert.Equal(t, int64(11), report.Paid)

	holder, _ := svc.Balance(ctx, "holder")
	assert.Equal(t, int64(10), holder.Wallet)
	cash, _ := svc.Balance(ctx, "cash")
	assert.Equal(t, int64(1000), cash.Wallet)
}

func TestAccrueInterestConcurrentWithPays(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := svc.Deposit(ctx, id, Exactly(50))
		require.NoError(t, err)
	}

	const runs = 50
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := svc.AccrueInterest(ctx)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Pay(ctx, Player("a"), Player("b"), 10)
			_, _ = svc.Pay(ctx, Player("b"), Player("a"), 10)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Pay(ctx, Player("b"), Player("a"), 25)
			_, _ = svc.Pay(ctx, Player("a"), Player("b"), 25)
		}()
	}
	wg.Wait()

	wantBank := int64(50)
	for i := 0; i < runs; i++ {
		wantBank += int64(math.Floor(float64(wantBank) * DefaultSettings().InterestRate))
	}
	a, _ := svc.Balance(ctx, "a")
	b, _ := svc.Balance(ctx, "b")
	assert.Equal(t, int64(100), a.Wallet+b.Wallet)
	assert.Equal(t, wantBank, a.Bank)
	assert.Equal(t, wantBank, b.Bank)

	stored := storedAccounts(t, blob)
	assert.Equal(t, int64(100), stored["a"].Wallet+stored["b"].Wallet)
	assert.Equal(t, 2*wantBank, stored["a"].Bank+stored["b"].Bank)
}

func TestPayDividendsConcurrentWithOrders(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingWallet = 1000
	svc, blob, _ := newTestService(t, WithSettings(settings))
	ctx := context.Background()
	// 4 x 250 pays 10 every run; the traders flip in and out of Oreobux.
	_, err := svc.BuyStock(ctx, "holder", "Fwizfinance", 4)
	require.NoError(t, err)
	traders := []string{"t1", "t2", "t3"}
	for _, id := range traders {
		_, err := svc.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	const runs = 30
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid int64
	)
	for i := 0; i < runs; i++ {
		wg.Add(1 + len(traders))
		go func() {
			defer wg.Done()
			report, err := svc.PayDividends(ctx)
			if assert.NoError(t, err) {
				mu.Lock()
				paid += report.Paid
				mu.Unlock()
			}
		}()
		for _, id := range traders {
			go func() {
				defer wg.Done()
				if _, err := svc.BuyStock(ctx, id, "Oreobux", 2); err != nil {
					return
				}
				_, err := svc.SellStock(ctx, id, "Oreobux", 2)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	holder, _ := svc.Balance(ctx, "holder")
	assert.Equal(t, int64(runs*10), holder.Wallet)
	assert.Equal(t, int64(4), holder.Portfolio["Fwizfinance"])

	var total int64
	for _, id := range traders {
		a, _ := svc.Balance(ctx, id)
		assert.Empty(t, a.Portfolio, id)
		total += a.Wallet
	}
	assert.Equal(t, int64(len(traders))*1000+paid-int64(runs*10), total)

	stored := storedAccounts(t, blob)
	var storedTotal int64
	for _, a := range stored {
		storedTotal += a.Wallet
		for sym, n := range a.Portfolio {
			storedTotal += n * svc.price(sym)
		}
	}
	assert.Equal(t, int64(len(traders)+1)*1000+paid, storedTotal)
}

type recordingJournal struct {
	entries []JournalEntry
	err     error
}

func (j *recordingJournal) Record(_ context.Context, entries []JournalEntry) error {
	j.entries = append(j.entries, entries...)
	return j.err
}

func TestJournalRecordsCommittedDeltas(t *testing.T) {
	j := &recordingJournal{}
	svc, _, _ := newTestService(t, WithJournal(j))
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, "b")
	require.NoError(t, err)
	j.entries = nil

	_, err = svc.Pay(ctx, Player("a"), Player("b"), 30)
	require.NoError(t, err)
	require.Len(t, j.entries, 2)
	assert.Equal(t, j.entries[0].TxGroup, j.entries[1].TxGroup)
	assert.Equal(t, "a", j.entries[0].UserID)
	assert.Equal(t, int64(-30), j.entries[0].WalletDelta)
	assert.Equal(t, int64(30), j.entries[1].WalletDelta)
	assert.Equal(t, "pay", j.entries[1].Op)

	_, err = svc.Pay(ctx, Player("a"), Player("b"), 1000)
	require.Error(t, err)
	assert.Len(t, j.entries, 2, "rejected operations are not journaled")

	j.err = errors.New("journal down")
	_, err = svc.Deposit(ctx, "a", Exactly(10))
	require.NoError(t, err, "journal failures never fail a committed operation")
}

type countingObserver struct {
	ops    map[string]int
	prices map[string]int64
}

func (o *countingObserver) OperationDone(op string, err error) {
	o.ops[op+"/"+ErrorKind(err)]++
}

func (o *countingObserver) InstrumentPrice(symbol string, price int64) {
	o.prices[symbol] = price
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &countingObserver{ops: map[string]int{}, prices: map[string]int64{}}
	svc, _, _ := newTestService(t, WithObserver(obs))
	ctx := context.Background()

	assert.Equal(t, int64(100), obs.prices["Oreobux"])

	_, _ = svc.Deposit(ctx, "a", Exactly(10))
	_, _ = svc.Deposit(ctx, "a", Exactly(1000))
	_, _ = svc.Pay(ctx, Player("a"), Player("a"), 1)
	assert.Equal(t, 1, obs.ops["deposit/ok"])
	assert.Equal(t, 1, obs.ops["deposit/insufficient_funds"])
	assert.Equal(t, 1, obs.ops["pay/invalid_target"])

	report, err := svc.TickMarket(ctx)
	require.NoError(t, err)
	for _, m := range report.Moves {
		assert.Equal(t, m.New, obs.prices[m.Symbol])
	}
}
