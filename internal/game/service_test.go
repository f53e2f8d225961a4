package game

import (
	"context"
	"encoding/json"
	"errors"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(ts string) *fakeClock {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(ts string) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedRand replays fixed draws. Once a queue is empty Float64 returns 0.5
// and Int63n returns 0.
type scriptedRand struct {
	floats []float64
	ints   []int64
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0.5
	}
	f := r.floats[0]
	r.floats = r.floats[1:]
	return f
}

func (r *scriptedRand) Int63n(n int64) int64 {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return min(v, n-1)
}

func openTest(t *testing.T, blob *store.MemoryBlob, opts ...Option) *Service {
	t.Helper()
	svc, err := Open(context.Background(), NewDocumentStore(blob), nil, opts...)
	require.NoError(t, err)
	return svc
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.MemoryBlob, *fakeClock) {
	t.Helper()
	blob := store.NewMemoryBlob()
	clock := newClock("2024-01-01T12:00:00Z")
	opts = append([]Option{WithClock(clock.Now), WithRand(mathrand.New(mathrand.NewSource(1)))}, opts...)
	return openTest(t, blob, opts...), blob, clock
}

func storedAccounts(t *testing.T, blob *store.MemoryBlob) map[string]Account {
	t.Helper()
	raw, err := blob.Get(context.Background(), DocAccounts)
	if errors.Is(err, store.ErrNotExist) {
		return map[string]Account{}
	}
	require.NoError(t, err)
	var out map[string]Account
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestGetOrCreatePersistsDefaultAccount(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.GetOrCreate(ctx, "<@!42>")
	require.NoError(t, err)
	assert.Equal(t, StarterWallet, a.Wallet)
	assert.Zero(t, a.Bank)
	assert.Empty(t, a.Portfolio)

	stored := storedAccounts(t, blob)
	require.Contains(t, stored, "42")
	assert.Equal(t, StarterWallet, stored["42"].Wallet)

	puts := blob.Puts(DocAccounts)
	_, err = svc.GetOrCreate(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, puts, blob.Puts(DocAccounts), "existing account must not be rewritten")

	reopened := openTest(t, blob)
	got, err := reopened.Balance(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDepositWithdraw(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Deposit(ctx, "u1", Exactly(60))
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.Wallet)
	assert.Equal(t, int64(60), a.Bank)

	a, err = svc.Deposit(ctx, "u1", All)
	require.NoError(t, err)
	assert.Zero(t, a.Wallet)
	assert.Equal(t, int64(100), a.Bank)

	_, err = svc.Deposit(ctx, "u1", All)
	var funds *FundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, "wallet", funds.Balance)

	_, err = svc.Withdraw(ctx, "u1", Exactly(500))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.Withdraw(ctx, "u1", Exactly(-5))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	a, err = svc.Withdraw(ctx, "u1", Exactly(25))
	require.NoError(t, err)
	assert.Equal(t, int64(25), a.Wallet)
	assert.Equal(t, int64(75), a.Bank)
}

func TestPay(t *testing.T) {
	tests := []struct {
		name    string
		from    Party
		to      Party
		amount  int64
		wantErr error
	}{
		{name: "ok", from: Player("a"), to: Player("b"), amount: 30},
		{name: "whole wallet", from: Player("a"), to: Player("b"), amount: 100},
		{name: "overdraw", from: Player("a"), to: Player("b"), amount: 101, wantErr: ErrInsufficientFunds},
		{name: "self", from: Player("a"), to: Player("<@a>"), amount: 10, wantErr: ErrInvalidTarget},
		{name: "bot", from: Player("a"), to: Party{ID: "b", Bot: true}, amount: 10, wantErr: ErrInvalidTarget},
		{name: "zero", from: Player("a"), to: Player("b"), amount: 0, wantErr: ErrInvalidAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, blob, _ := newTestService(t)
			ctx := context.Background()

			res, err := svc.Pay(ctx, tc.from, tc.to, tc.amount)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				_, existsA := svc.lookup("a")
				_, existsB := svc.lookup("b")
				assert.False(t, existsA || existsB, "failed pay must not create accounts")
				assert.Zero(t, blob.Puts(DocAccounts))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2*StarterWallet, res.From.Wallet+res.To.Wallet)
			assert.Equal(t, StarterWallet-tc.amount, res.From.Wallet)
		})
	}
}

func TestFailedPayLeavesExistingAccountsIdentical(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Pay(ctx, Player("a"), Player("b"), 40)
	require.NoError(t, err)

	before := storedAccounts(t, blob)
	a0, _ := svc.Balance(ctx, "a")
	b0, _ := svc.Balance(ctx, "b")

	_, err = svc.Pay(ctx, Player("a"), Player("b"), 61)
	var funds *FundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, int64(60), funds.Have)
	assert.Equal(t, int64(61), funds.Need)

	a1, _ := svc.Balance(ctx, "a")
	b1, _ := svc.Balance(ctx, "b")
	assert.Equal(t, a0, a1)
	assert.Equal(t, b0, b1)
	assert.Equal(t, before, storedAccounts(t, blob))
}

func TestConcurrentOppositePaysConserveTotal(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := svc.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Pay(ctx, Player("a"), Player("b"), 50)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Pay(ctx, Player("b"), Player("a"), 50)
		}()
	}
	wg.Wait()

	a, _ := svc.Balance(ctx, "a")
	b, _ := svc.Balance(ctx, "b")
	assert.Equal(t, 2*StarterWallet, a.Wallet+b.Wallet)
	assert.GreaterOrEqual(t, a.Wallet, int64(0))
	assert.GreaterOrEqual(t, b.Wallet, int64(0))

	stored := storedAccounts(t, blob)
	assert.Equal(t, 2*StarterWallet, stored["a"].Wallet+stored["b"].Wallet)
}

func TestRobCooldown(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Rob(ctx, Player("thief"), Player("victim"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Amount, int64(10))
	assert.LessOrEqual(t, res.Amount, int64(50))
	assert.Equal(t, StarterWallet+res.Amount, res.Thief.Wallet)
	assert.Equal(t, StarterWallet-res.Amount, res.Victim.Wallet)

	clock.Advance(299 * time.Second)
	thief0, _ := svc.Balance(ctx, "thief")
	victim0, _ := svc.Balance(ctx, "victim")

	_, err = svc.Rob(ctx, Player("thief"), Player("victim"))
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, ActionRob, cd.Action)
	assert.Equal(t, int64(1), cd.RemainingSeconds())

	thief1, _ := svc.Balance(ctx, "thief")
	victim1, _ := svc.Balance(ctx, "victim")
	assert.Equal(t, thief0, thief1)
	assert.Equal(t, victim0, victim1)

	clock.Advance(time.Second)
	assert.True(t, svc.CheckCooldown("thief", ActionRob).Allowed)
}

func TestRobPoorVictimKeepsCooldown(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Pay(ctx, Player("victim"), Player("other"), 60)
	require.NoError(t, err)

	_, err = svc.Rob(ctx, Player("thief"), Player("victim"))
	var te *TargetError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int64(40), te.Have)
	assert.Equal(t, int64(50), te.Min)
	assert.True(t, svc.CheckCooldown("thief", ActionRob).Allowed)
}

func TestDailyResetsAtUTCMidnight(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	clock.Set("2024-01-01T23:59:59Z")
	first, err := svc.Daily(ctx, "u")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.Amount, int64(200))
	assert.LessOrEqual(t, first.Amount, int64(350))

	clock.Set("2024-01-02T00:00:01Z")
	_, err = svc.Daily(ctx, "u")
	require.NoError(t, err)
}

func TestDailyTwiceSameDayFails(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	clock.Set("2024-01-01T00:00:00Z")
	_, err := svc.Daily(ctx, "u")
	require.NoError(t, err)
	before, _ := svc.Balance(ctx, "u")

	clock.Set("2024-01-01T23:59:59Z")
	_, err = svc.Daily(ctx, "u")
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, int64(1), cd.RemainingSeconds())

	after, _ := svc.Balance(ctx, "u")
	assert.Equal(t, before, after)
}

func TestBankrobAmountBounds(t *testing.T) {
	tests := []struct {
		bank int64
		pct  float64
		want int64
	}{
		{bank: 10000, pct: 0.12, want: 1200},
		{bank: 10000, pct: 0.28, want: 2800},
		{bank: 10000, pct: 0.90, want: 4000},
		{bank: 150, pct: 0.12, want: 100},
		{bank: 60, pct: 0.12, want: 60},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, bankrobAmount(tc.bank, tc.pct, 0.40, 100), "bank=%d pct=%v", tc.bank, tc.pct)
	}
}

func TestBankrobCap(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingWallet = 10000
	settings.BankrobOverrides = map[string]float64{"robber": 1}

	for seed := int64(0); seed < 50; seed++ {
		svc, _, _ := newTestService(t, WithSettings(settings), WithRand(mathrand.New(mathrand.NewSource(seed))))
		ctx := context.Background()
		_, err := svc.Deposit(ctx, "victim", All)
		require.NoError(t, err)

		res, err := svc.Bankrob(ctx, Player("robber"), Player("victim"))
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.GreaterOrEqual(t, res.Amount, int64(100))
		assert.LessOrEqual(t, res.Amount, int64(4000))
		assert.Equal(t, 10000-res.Amount, res.Victim.Bank)
		assert.Equal(t, 10000+res.Amount, res.Robber.Wallet)
	}
}

func TestBankrobCaught(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingWallet = 1000
	rng := &scriptedRand{floats: []float64{0.99}, ints: []int64{0}}
	svc, _, _ := newTestService(t, WithSettings(settings), WithRand(rng))
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "victim", Exactly(500))
	require.NoError(t, err)

	res, err := svc.Bankrob(ctx, Player("robber"), Player("victim"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, int64(50), res.Fine)
	assert.Equal(t, int64(950), res.Robber.Wallet)
	assert.Equal(t, int64(500), res.Victim.Bank)

	_, err = svc.Bankrob(ctx, Player("robber"), Player("victim"))
	require.ErrorIs(t, err, ErrOnCooldown)
}

func TestBankrobCaughtBrokeRobberIsWarned(t *testing.T) {
	rng := &scriptedRand{floats: []float64{0.99}}
	svc, _, _ := newTestService(t, WithRand(rng))
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "victim", All)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, Player("robber"), Player("friend"), 70)
	require.NoError(t, err)

	res, err := svc.Bankrob(ctx, Player("robber"), Player("victim"))
	require.NoError(t, err)
	assert.True(t, res.Warned)
	assert.Zero(t, res.Fine)
	assert.Equal(t, int64(30), res.Robber.Wallet)
	assert.False(t, svc.CheckCooldown("robber", ActionBankrob).Allowed)
}

func TestBankrobPoorVictim(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "victim", Exactly(99))
	require.NoError(t, err)

	_, err = svc.Bankrob(ctx, Player("robber"), Player("victim"))
	var te *TargetError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "bank", te.Balance)
	assert.Equal(t, int64(100), te.Min)
	assert.True(t, svc.CheckCooldown("robber", ActionBankrob).Allowed)
}

func TestBegLevels(t *testing.T) {
	for xp, want := range map[int64]int64{0: 1, 24: 1, 25: 2, 99: 2, 100: 3, 400: 5} {
		assert.Equal(t, want, begLevel(xp), "xp=%d", xp)
	}
}

func TestBeg(t *testing.T) {
	svc, blob, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Beg(ctx, "u")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Amount, int64(12))
	assert.LessOrEqual(t, res.Amount, int64(35))
	assert.Equal(t, res.XPGain, res.Stats.XP)
	assert.Equal(t, int64(1), res.Stats.TotalBegs)
	assert.Equal(t, StarterWallet+res.Amount, res.Account.Wallet)
	assert.Equal(t, 1, blob.Puts(DocBegStats))

	clock.Advance(10 * time.Second)
	_, err = svc.Beg(ctx, "u")
	require.ErrorIs(t, err, ErrOnCooldown)

	clock.Advance(20 * time.Second)
	res, err = svc.Beg(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Stats.TotalBegs)

	board := svc.BegLeaderboard(nil, 10)
	require.Len(t, board, 1)
	assert.Equal(t, "u", board[0].UserID)
	assert.Equal(t, 1, board[0].Rank)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	svc, blob, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Pay(ctx, Player("a"), Player("b"), 10)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	blob.FailPut = func(string) error { return diskFull }

	_, err = svc.Pay(ctx, Player("a"), Player("b"), 10)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, diskFull)

	a, _ := svc.Balance(ctx, "a")
	b, _ := svc.Balance(ctx, "b")
	assert.Equal(t, int64(90), a.Wallet)
	assert.Equal(t, int64(110), b.Wallet)
}

func TestPartialCommitFailureRestoresEarlierDocuments(t *testing.T) {
	settings := DefaultSettings()
	settings.ShopItems = []ShopItem{{Name: "Oreo plush", Price: 10}}
	blob := store.NewMemoryBlob()
	require.NoError(t, blob.Put(context.Background(), DocShopStock, []byte(`{"Oreo plush": 5}`)))
	svc := openTest(t, blob, WithSettings(settings))
	ctx := context.Background()
	_, err := svc.GetOrCreate(ctx, "u")
	require.NoError(t, err)

	blob.FailPut = func(name string) error {
		if name == DocInventories {
			return errors.New("inventories unavailable")
		}
		return nil
	}
	_, err = svc.Buy(ctx, "u", "oreo plush", 2)
	require.ErrorIs(t, err, ErrPersistence)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, DocInventories, perr.Doc)

	a, _ := svc.Balance(ctx, "u")
	assert.Equal(t, StarterWallet, a.Wallet)
	assert.Empty(t, svc.Inventory("u"))
	assert.Equal(t, StarterWallet, storedAccounts(t, blob)["u"].Wallet, "accounts document must be restored")
	assert.Equal(t, int64(5), svc.ShopListing()[0].Stock)
}

func TestNetWorthAndBaltop(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BuyStock(ctx, "a", "oreobux", 1)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "b", Exactly(50))
	require.NoError(t, err)
	_, err = svc.Pay(ctx, Player("c"), Player("b"), 25)
	require.NoError(t, err)

	nw, err := svc.NetWorth(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, nw.Wallet)
	assert.Equal(t, int64(100), nw.StockValue)
	assert.Equal(t, int64(100), nw.Total)

	rows := svc.Baltop(nil, 1)
	require.Len(t, rows, 3, "n is clamped to at least 3")
	assert.Equal(t, "b", rows[0].UserID)
	assert.Equal(t, int64(125), rows[0].Total)
	assert.Equal(t, "c", rows[1].UserID)

	rows = svc.Baltop([]string{"<@a>", "c"}, 10)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].UserID)
	assert.Equal(t, "a", rows[1].UserID)
}

func TestMissingUserIDRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Deposit(context.Background(), "  ", All)
	require.ErrorIs(t, err, ErrInvalidTarget)
}
