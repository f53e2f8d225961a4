package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"coinbot/internal/locks"
)

const (
	shopKey   = "res:shop"
	marketKey = "res:market"
)

func accountKey(id string) string { return "acct:" + id }

// JournalEntry is one account's balance movement inside a committed
// operation. Entries of one commit share a TxGroup.
type JournalEntry struct {
	TxGroup     string
	Op          string
	UserID      string
	WalletDelta int64
	BankDelta   int64
	At          time.Time
}

type Journal interface {
	Record(ctx context.Context, entries []JournalEntry) error
}

// Observer receives operation outcomes and instrument prices.
type Observer interface {
	OperationDone(op string, err error)
	InstrumentPrice(symbol string, price int64)
}

type Option func(*Service)

func WithRand(r Rand) Option { return func(s *Service) { s.rand = newLockedRand(r) } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithSettings(settings Settings) Option { return func(s *Service) { s.settings = settings } }

func WithTradeBook(book *TradeBook) Option { return func(s *Service) { s.trades = book } }

func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// Service is the economy engine. Every persisted document is loaded once in
// Open; afterwards the in-memory copy is authoritative and each successful
// operation writes the documents it touched before it returns.
type Service struct {
	store    Store
	log      *slog.Logger
	settings Settings
	gate     Gate
	rand     Rand
	now      func() time.Time
	locks    *locks.Keyed
	trades   *TradeBook
	journal  Journal
	observer Observer

	state state

	purchasesMu sync.Mutex
	purchases   map[string]int64
}

func Open(ctx context.Context, st Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		log:       logger,
		settings:  DefaultSettings(),
		now:       time.Now,
		locks:     locks.NewKeyed(),
		purchases: map[string]int64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = newLockedRand(nil)
	}
	if s.trades == nil {
		s.trades = NewTradeBook()
	}
	s.settings = s.settings.Normalize()
	if err := s.settings.Validate(); err != nil {
		return nil, fmt.Errorf("economy settings: %w", err)
	}
	s.gate = NewGate(s.settings)
	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	for sym, in := range s.state.instruments {
		s.observePrice(sym, in.Price)
	}
	return s, nil
}

func (s *Service) Settings() Settings { return s.settings }

// txn stages the records one operation reads and writes. Reads see staged
// values first, then the committed state.
type txn struct {
	s   *Service
	now time.Time
	cs  changeset
}

func (t *txn) account(id string) Account {
	if a, ok := t.cs.accounts[id]; ok {
		return a.Clone()
	}
	t.s.state.mu.RLock()
	a, ok := t.s.state.accounts[id]
	t.s.state.mu.RUnlock()
	if !ok {
		return NewAccount(t.s.settings.StartingWallet)
	}
	return a.Clone()
}

func (t *txn) exists(id string) bool {
	if _, ok := t.cs.accounts[id]; ok {
		return true
	}
	t.s.state.mu.RLock()
	defer t.s.state.mu.RUnlock()
	_, ok := t.s.state.accounts[id]
	return ok
}

func (t *txn) put(id string, a Account) { t.cs.putAccount(id, a) }

func (t *txn) inventory(id string) Inventory {
	if inv, ok := t.cs.inventories[id]; ok {
		return inv.Clone()
	}
	t.s.state.mu.RLock()
	defer t.s.state.mu.RUnlock()
	return t.s.state.inventories[id].Clone()
}

func (t *txn) putInventory(id string, inv Inventory) { t.cs.putInventory(id, inv) }

// run holds the given lock keys across validation, mutation and commit.
// fn returning an error means nothing is written.
func (s *Service) run(ctx context.Context, op string, keys []string, fn func(*txn) error) error {
	release, err := s.locks.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()

	t := &txn{s: s, now: s.now().UTC()}
	if err := fn(t); err != nil {
		s.observe(op, err)
		return err
	}
	prev, err := s.commit(ctx, &t.cs)
	if err != nil {
		s.log.Error("commit failed", "op", op, "err", err)
		s.observe(op, err)
		return err
	}
	s.record(ctx, op, t.now, prev, t.cs.accounts)
	s.observe(op, nil)
	return nil
}

func (s *Service) record(ctx context.Context, op string, at time.Time, prev, next map[string]Account) {
	if s.journal == nil || len(next) == 0 {
		return
	}
	group := uuid.NewString()
	entries := make([]JournalEntry, 0, len(next))
	for _, id := range sortedKeys(next) {
		before, after := prev[id], next[id]
		dw, db := after.Wallet-before.Wallet, after.Bank-before.Bank
		if dw == 0 && db == 0 {
			continue
		}
		entries = append(entries, JournalEntry{TxGroup: group, Op: op, UserID: id, WalletDelta: dw, BankDelta: db, At: at})
	}
	if len(entries) == 0 {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), entries); err != nil {
		s.log.Warn("journal record failed", "op", op, "err", err)
	}
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.OperationDone(op, err)
	}
}

func (s *Service) observePrice(symbol string, price int64) {
	if s.observer != nil {
		s.observer.InstrumentPrice(symbol, price)
	}
}

// ErrorKind names the failure class of err for metrics and wire responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrOnCooldown):
		return "on_cooldown"
	case errors.Is(err, ErrInsufficientTarget):
		return "insufficient_target"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func checkPair(from, to Party) error {
	if to.Bot {
		return &InvalidTargetError{Reason: "bots have no account"}
	}
	if from.ID == "" || to.ID == "" {
		return &InvalidTargetError{Reason: "missing user id"}
	}
	if from.ID == to.ID {
		return &InvalidTargetError{Reason: "cannot target yourself"}
	}
	return nil
}

func (s *Service) userID(op, user string) (string, error) {
	id := NormalizeID(user)
	if id == "" {
		err := &InvalidTargetError{Reason: "missing user id"}
		s.observe(op, err)
		return "", err
	}
	return id, nil
}

func normalizeParty(p Party) Party {
	p.ID = NormalizeID(p.ID)
	return p
}

// GetOrCreate returns the user's account, persisting a default record the
// first time a user is seen.
func (s *Service) GetOrCreate(ctx context.Context, user string) (Account, error) {
	id := NormalizeID(user)
	if id == "" {
		return Account{}, &InvalidTargetError{Reason: "missing user id"}
	}
	if a, ok := s.lookup(id); ok {
		return a, nil
	}
	var out Account
	err := s.run(ctx, "create", []string{accountKey(id)}, func(t *txn) error {
		out = t.account(id)
		if !t.exists(id) {
			t.put(id, out)
		}
		return nil
	})
	return out, err
}

func (s *Service) Balance(ctx context.Context, user string) (Account, error) {
	return s.GetOrCreate(ctx, user)
}

func (s *Service) lookup(id string) (Account, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	a, ok := s.state.accounts[id]
	if !ok {
		return Account{}, false
	}
	return a.Clone(), true
}

// Deposit moves wallet coins to the bank.
func (s *Service) Deposit(ctx context.Context, user string, amount Amount) (Account, error) {
	return s.move(ctx, "deposit", user, amount, true)
}

func (s *Service) Withdraw(ctx context.Context, user string, amount Amount) (Account, error) {
	return s.move(ctx, "withdraw", user, amount, false)
}

func (s *Service) move(ctx context.Context, op, user string, amount Amount, toBank bool) (Account, error) {
	id, err := s.userID(op, user)
	if err != nil {
		return Account{}, err
	}
	var out Account
	err = s.run(ctx, op, []string{accountKey(id)}, func(t *txn) error {
		a := t.account(id)
		src, name := &a.Wallet, "wallet"
		dst := &a.Bank
		if !toBank {
			src, name, dst = &a.Bank, "bank", &a.Wallet
		}
		n := amount.resolve(*src)
		if n <= 0 || n > *src {
			return &FundsError{Balance: name, Have: *src, Need: n}
		}
		*src -= n
		*dst += n
		t.put(id, a)
		out = a.Clone()
		return nil
	})
	return out, err
}

type PayResult struct {
	Amount int64   `json:"amount"`
	From   Account `json:"from"`
	To     Account `json:"to"`
}

// Pay moves coins between two wallets. The target must be another player.
func (s *Service) Pay(ctx context.Context, from, to Party, amount int64) (PayResult, error) {
	from, to = normalizeParty(from), normalizeParty(to)
	if err := checkPair(from, to); err != nil {
		s.observe("pay", err)
		return PayResult{}, err
	}
	if amount <= 0 {
		err := fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
		s.observe("pay", err)
		return PayResult{}, err
	}
	var res PayResult
	err := s.run(ctx, "pay", []string{accountKey(from.ID), accountKey(to.ID)}, func(t *txn) error {
		a, b := t.account(from.ID), t.account(to.ID)
		if amount > a.Wallet {
			return &FundsError{Balance: "wallet", Have: a.Wallet, Need: amount}
		}
		a.Wallet -= amount
		b.Wallet += amount
		t.put(from.ID, a)
		t.put(to.ID, b)
		res = PayResult{Amount: amount, From: a.Clone(), To: b.Clone()}
		return nil
	})
	return res, err
}

// CheckCooldown reports whether the action is currently allowed. It never
// blocks and never creates an account.
func (s *Service) CheckCooldown(user string, action Action) Decision {
	a, ok := s.lookup(NormalizeID(user))
	if !ok {
		return Decision{Allowed: true}
	}
	return s.gate.Check(a, action, s.now().UTC())
}

type RewardResult struct {
	Amount  int64   `json:"amount"`
	Account Account `json:"account"`
}

// Daily credits the once-per-UTC-day reward.
func (s *Service) Daily(ctx context.Context, user string) (RewardResult, error) {
	id, err := s.userID("daily", user)
	if err != nil {
		return RewardResult{}, err
	}
	var res RewardResult
	err = s.run(ctx, "daily", []string{accountKey(id)}, func(t *txn) error {
		a := t.account(id)
		if err := s.gate.Err(a, ActionDaily, t.now); err != nil {
			return err
		}
		reward := intBetween(s.rand, s.settings.DailyMin, s.settings.DailyMax)
		a.Wallet += reward
		stamp(&a, ActionDaily, t.now)
		t.put(id, a)
		res = RewardResult{Amount: reward, Account: a.Clone()}
		return nil
	})
	return res, err
}

type RobResult struct {
	Amount int64   `json:"amount"`
	Thief  Account `json:"thief"`
	Victim Account `json:"victim"`
}

// Rob steals part of another player's wallet.
func (s *Service) Rob(ctx context.Context, thief, victim Party) (RobResult, error) {
	thief, victim = normalizeParty(thief), normalizeParty(victim)
	if err := checkPair(thief, victim); err != nil {
		s.observe("rob", err)
		return RobResult{}, err
	}
	var res RobResult
	err := s.run(ctx, "rob", []string{accountKey(thief.ID), accountKey(victim.ID)}, func(t *txn) error {
		a, v := t.account(thief.ID), t.account(victim.ID)
		if err := s.gate.Err(a, ActionRob, t.now); err != nil {
			return err
		}
		if v.Wallet < s.settings.RobMinVictimWallet {
			return &TargetError{Balance: "wallet", Have: v.Wallet, Min: s.settings.RobMinVictimWallet}
		}
		stolen := intBetween(s.rand, s.settings.RobMinSteal, max(s.settings.RobMinSteal, v.Wallet/2))
		stolen = min(stolen, v.Wallet)
		v.Wallet -= stolen
		a.Wallet += stolen
		stamp(&a, ActionRob, t.now)
		t.put(thief.ID, a)
		t.put(victim.ID, v)
		res = RobResult{Amount: stolen, Thief: a.Clone(), Victim: v.Clone()}
		return nil
	})
	return res, err
}

type BankrobResult struct {
	Success bool    `json:"success"`
	Amount  int64   `json:"amount"`
	Fine    int64   `json:"fine"`
	Warned  bool    `json:"warned"`
	Robber  Account `json:"robber"`
	Victim  Account `json:"victim"`
}

// Bankrob attempts to steal from another player's bank. A caught robber is
// fined from their wallet, or warned when the wallet is below the minimum
// fine.
func (s *Service) Bankrob(ctx context.Context, robber, victim Party) (BankrobResult, error) {
	robber, victim = normalizeParty(robber), normalizeParty(victim)
	if err := checkPair(robber, victim); err != nil {
		s.observe("bankrob", err)
		return BankrobResult{}, err
	}
	var res BankrobResult
	err := s.run(ctx, "bankrob", []string{accountKey(robber.ID), accountKey(victim.ID)}, func(t *txn) error {
		a, v := t.account(robber.ID), t.account(victim.ID)
		if err := s.gate.Err(a, ActionBankrob, t.now); err != nil {
			return err
		}
		if v.Bank < s.settings.BankrobMinVictimBank {
			return &TargetError{Balance: "bank", Have: v.Bank, Min: s.settings.BankrobMinVictimBank}
		}
		stamp(&a, ActionBankrob, t.now)

		if s.rand.Float64() < s.bankrobChance(robber.ID) {
			pct := uniform(s.rand, s.settings.BankrobStealMinPct, s.settings.BankrobStealMaxPct)
			amount := bankrobAmount(v.Bank, pct, s.settings.BankrobMaxStealPct, s.settings.BankrobMinSteal)
			v.Bank -= amount
			a.Wallet += amount
			res = BankrobResult{Success: true, Amount: amount}
		} else if a.Wallet < s.settings.BankrobFineMin {
			res = BankrobResult{Warned: true}
		} else {
			fine := intBetween(s.rand, s.settings.BankrobFineMin, min(a.Wallet, s.settings.BankrobFineMax))
			a.Wallet -= fine
			res = BankrobResult{Fine: fine}
		}
		t.put(robber.ID, a)
		t.put(victim.ID, v)
		res.Robber, res.Victim = a.Clone(), v.Clone()
		return nil
	})
	return res, err
}

func (s *Service) bankrobChance(id string) float64 {
	if p, ok := s.settings.BankrobOverrides[id]; ok {
		return p
	}
	return s.settings.BankrobSuccessChance
}

// bankrobAmount is min(pct of bank, cap pct of bank, bank), raised to floor
// unless the bank itself holds less than floor.
func bankrobAmount(bank int64, pct, capPct float64, floor int64) int64 {
	raw := int64(float64(bank) * pct)
	hardCap := int64(float64(bank) * capPct)
	amount := min(raw, hardCap, bank)
	if amount < floor {
		amount = min(floor, bank)
	}
	return amount
}

type BegResult struct {
	Amount  int64    `json:"amount"`
	XPGain  int64    `json:"xp_gain"`
	Stats   BegStats `json:"stats"`
	Account Account  `json:"account"`
}

// Beg pays a small level-scaled amount and grows the user's beg xp.
func (s *Service) Beg(ctx context.Context, user string) (BegResult, error) {
	id, err := s.userID("beg", user)
	if err != nil {
		return BegResult{}, err
	}
	var res BegResult
	err = s.run(ctx, "beg", []string{accountKey(id)}, func(t *txn) error {
		a := t.account(id)
		if err := s.gate.Err(a, ActionBeg, t.now); err != nil {
			return err
		}
		s.state.mu.RLock()
		stats := s.state.begStats[id]
		s.state.mu.RUnlock()

		level := begLevel(stats.XP)
		payout := intBetween(s.rand, 10+2*level, 30+5*level)
		gain := intBetween(s.rand, 5, 12)
		stats.XP += gain
		stats.TotalBegs++
		stats.Level = begLevel(stats.XP)

		a.Wallet += payout
		stamp(&a, ActionBeg, t.now)
		t.put(id, a)
		t.cs.begStats = map[string]BegStats{id: stats}
		res = BegResult{Amount: payout, XPGain: gain, Stats: stats, Account: a.Clone()}
		return nil
	})
	return res, err
}

func begLevel(xp int64) int64 {
	if xp <= 0 {
		return 1
	}
	return isqrt(xp)/5 + 1
}

func isqrt(n int64) int64 {
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
