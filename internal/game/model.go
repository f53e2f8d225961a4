package game

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	StarterWallet = int64(100)

	DocAccounts    = "coins.json"
	DocInventories = "inventories.json"
	DocShopStock   = "shop_stock.json"
	DocInstruments = "stocks.json"
	DocBegStats    = "beg_stats.json"
)

// Account is one user's balances and cooldown stamps. Stamps are seconds
// since the Unix epoch; zero means never used.
type Account struct {
	Wallet      int64            `json:"wallet"`
	Bank        int64            `json:"bank"`
	Portfolio   map[string]int64 `json:"portfolio"`
	LastDaily   float64          `json:"last_daily"`
	LastRob     float64          `json:"last_rob"`
	LastBankrob float64          `json:"last_bankrob"`
	LastBeg     float64          `json:"last_beg"`
}

func NewAccount(wallet int64) Account {
	return Account{Wallet: wallet, Portfolio: map[string]int64{}}
}

func (a Account) Clone() Account {
	out := a
	out.Portfolio = make(map[string]int64, len(a.Portfolio))
	for sym, n := range a.Portfolio {
		out.Portfolio[sym] = n
	}
	return out
}

func (a Account) Shares(symbol string) int64 {
	return a.Portfolio[symbol]
}

// Valid reports whether the record satisfies the at-rest invariants.
func (a Account) Valid() bool {
	if a.Wallet < 0 || a.Bank < 0 {
		return false
	}
	for _, n := range a.Portfolio {
		if n < 0 {
			return false
		}
	}
	return true
}

type Instrument struct {
	Price   int64   `json:"price"`
	History []int64 `json:"history"`
}

func (i Instrument) Clone() Instrument {
	out := i
	out.History = append([]int64(nil), i.History...)
	return out
}

// Inventory maps item name to a positive count. Zero entries are pruned.
type Inventory map[string]int64

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for k, v := range inv {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func (inv Inventory) add(item string, n int64) {
	next := inv[item] + n
	if next <= 0 {
		delete(inv, item)
		return
	}
	inv[item] = next
}

type BegStats struct {
	XP        int64 `json:"xp"`
	Level     int64 `json:"level"`
	TotalBegs int64 `json:"total_begs"`
}

// Party identifies a participant as supplied by the chat layer. Bot parties
// hold no account and can never be the target of a paired operation.
type Party struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot,omitempty"`
}

func Player(id string) Party {
	return Party{ID: NormalizeID(id)}
}

// NormalizeID maps the forms a user id arrives in (plain, padded, or a chat
// mention such as <@123> / <@!123>) onto one canonical string.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "<@") && strings.HasSuffix(id, ">") {
		id = strings.TrimSuffix(strings.TrimPrefix(id, "<@"), ">")
		id = strings.TrimPrefix(id, "!")
	}
	return id
}

func IDFromInt(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Amount is either an exact positive value or "everything available".
type Amount struct {
	All   bool
	Value int64
}

func Exactly(n int64) Amount { return Amount{Value: n} }

var All = Amount{All: true}

func ParseAmount(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "all") {
		return All, nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: enter a number or `all`", ErrInvalidAmount)
	}
	return Exactly(n), nil
}

func (a Amount) resolve(available int64) int64 {
	if a.All {
		return available
	}
	return a.Value
}

type InstrumentSeed struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Price  int64  `yaml:"price" json:"price"`
}

type ShopItem struct {
	Name  string `yaml:"name" json:"name"`
	Price int64  `yaml:"price" json:"price"`
}

// Settings carries every economy tunable. Zero values are replaced by the
// defaults in Normalize.
type Settings struct {
	StartingWallet int64 `yaml:"starting_wallet"`

	BegCooldown     time.Duration `yaml:"beg_cooldown"`
	RobCooldown     time.Duration `yaml:"rob_cooldown"`
	BankrobCooldown time.Duration `yaml:"bankrob_cooldown"`

	DailyMin int64 `yaml:"daily_min"`
	DailyMax int64 `yaml:"daily_max"`

	RobMinVictimWallet int64 `yaml:"rob_min_victim_wallet"`
	RobMinSteal        int64 `yaml:"rob_min_steal"`

	BankrobMinVictimBank int64   `yaml:"bankrob_min_victim_bank"`
	BankrobSuccessChance float64 `yaml:"bankrob_success_chance"`
	BankrobStealMinPct   float64 `yaml:"bankrob_steal_min_pct"`
	BankrobStealMaxPct   float64 `yaml:"bankrob_steal_max_pct"`
	BankrobMaxStealPct   float64 `yaml:"bankrob_max_steal_pct"`
	BankrobMinSteal      int64   `yaml:"bankrob_min_steal"`
	BankrobFineMin       int64   `yaml:"bankrob_fine_min"`
	BankrobFineMax       int64   `yaml:"bankrob_fine_max"`
	// BankrobOverrides maps a user id to the success probability used in
	// place of BankrobSuccessChance.
	BankrobOverrides map[string]float64 `yaml:"bankrob_overrides"`

	InterestRate  float64       `yaml:"interest_rate"`
	InterestEvery time.Duration `yaml:"interest_every"`
	DividendRate  float64       `yaml:"dividend_rate"`
	DividendEvery time.Duration `yaml:"dividend_every"`

	MarketTickEvery time.Duration `yaml:"market_tick_every"`
	HistoryLength   int           `yaml:"history_length"`

	RestockEvery  time.Duration `yaml:"restock_every"`
	RestockChance float64       `yaml:"restock_chance"`
	RestockMaxAdd int64         `yaml:"restock_max_add"`

	Instruments []InstrumentSeed `yaml:"instruments"`
	ShopItems   []ShopItem       `yaml:"shop_items"`
}

func DefaultSettings() Settings {
	return Settings{
		StartingWallet: StarterWallet,

		BegCooldown:     30 * time.Second,
		RobCooldown:     300 * time.Second,
		BankrobCooldown: 600 * time.Second,

		DailyMin: 200,
		DailyMax: 350,

		RobMinVictimWallet: 50,
		RobMinSteal:        10,

		BankrobMinVictimBank: 100,
		BankrobSuccessChance: 0.20,
		BankrobStealMinPct:   0.12,
		BankrobStealMaxPct:   0.28,
		BankrobMaxStealPct:   0.40,
		BankrobMinSteal:      100,
		BankrobFineMin:       50,
		BankrobFineMax:       150,
		BankrobOverrides:     map[string]float64{},

		InterestRate:  0.02,
		InterestEvery: time.Hour,
		DividendRate:  0.01,
		DividendEvery: 24 * time.Hour,

		MarketTickEvery: 5 * time.Minute,
		HistoryLength:   24,

		RestockEvery:  5 * time.Minute,
		RestockChance: 0.12,
		RestockMaxAdd: 2,

		Instruments: []InstrumentSeed{
			{Symbol: "Oreobux", Price: 100},
			{Symbol: "QMkoin", Price: 150},
			{Symbol: "Seelsterling", Price: 200},
			{Symbol: "Fwizfinance", Price: 250},
			{Symbol: "BingBux", Price: 120},
		},
		ShopItems: []ShopItem{
			{Name: "Anime body pillow", Price: 30000},
			{Name: "Oreo plush", Price: 15000},
			{Name: "Rtx5090", Price: 150000},
			{Name: "Crash token", Price: 175000},
			{Name: "Imran's nose", Price: 999999},
		},
	}
}

// Normalize fills zero fields from DefaultSettings and normalizes override ids.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.StartingWallet <= 0 {
		s.StartingWallet = d.StartingWallet
	}
	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&s.BegCooldown, d.BegCooldown},
		{&s.RobCooldown, d.RobCooldown},
		{&s.BankrobCooldown, d.BankrobCooldown},
		{&s.InterestEvery, d.InterestEvery},
		{&s.DividendEvery, d.DividendEvery},
		{&s.MarketTickEvery, d.MarketTickEvery},
		{&s.RestockEvery, d.RestockEvery},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	ints := []struct {
		v   *int64
		def int64
	}{
		{&s.DailyMin, d.DailyMin},
		{&s.DailyMax, d.DailyMax},
		{&s.RobMinVictimWallet, d.RobMinVictimWallet},
		{&s.RobMinSteal, d.RobMinSteal},
		{&s.BankrobMinVictimBank, d.BankrobMinVictimBank},
		{&s.BankrobMinSteal, d.BankrobMinSteal},
		{&s.BankrobFineMin, d.BankrobFineMin},
		{&s.BankrobFineMax, d.BankrobFineMax},
		{&s.RestockMaxAdd, d.RestockMaxAdd},
	}
	for _, f := range ints {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	floats := []struct {
		v   *float64
		def float64
	}{
		{&s.BankrobSuccessChance, d.BankrobSuccessChance},
		{&s.BankrobStealMinPct, d.BankrobStealMinPct},
		{&s.BankrobStealMaxPct, d.BankrobStealMaxPct},
		{&s.BankrobMaxStealPct, d.BankrobMaxStealPct},
		{&s.InterestRate, d.InterestRate},
		{&s.DividendRate, d.DividendRate},
		{&s.RestockChance, d.RestockChance},
	}
	for _, f := range floats {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if s.HistoryLength <= 0 {
		s.HistoryLength = d.HistoryLength
	}
	if len(s.Instruments) == 0 {
		s.Instruments = d.Instruments
	}
	if len(s.ShopItems) == 0 {
		s.ShopItems = d.ShopItems
	}
	overrides := make(map[string]float64, len(s.BankrobOverrides))
	for id, p := range s.BankrobOverrides {
		overrides[NormalizeID(id)] = p
	}
	s.BankrobOverrides = overrides
	return s
}

func (s Settings) Validate() error {
	var errs []error
	if s.DailyMax < s.DailyMin {
		errs = append(errs, fmt.Errorf("daily_max %d below daily_min %d", s.DailyMax, s.DailyMin))
	}
	if s.BankrobStealMaxPct < s.BankrobStealMinPct {
		errs = append(errs, fmt.Errorf("bankrob_steal_max_pct below bankrob_steal_min_pct"))
	}
	if s.BankrobFineMax < s.BankrobFineMin {
		errs = append(errs, fmt.Errorf("bankrob_fine_max below bankrob_fine_min"))
	}
	seen := map[string]bool{}
	for _, in := range s.Instruments {
		key := strings.ToLower(strings.TrimSpace(in.Symbol))
		if key == "" || in.Price < 1 {
			errs = append(errs, fmt.Errorf("instrument %q needs a symbol and a price >= 1", in.Symbol))
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate instrument %q", in.Symbol))
		}
		seen[key] = true
	}
	for id, p := range s.BankrobOverrides {
		if p < 0 || p > 1 || math.IsNaN(p) {
			errs = append(errs, fmt.Errorf("bankrob override for %s must be within [0,1]", id))
		}
	}
	return errors.Join(errs...)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
