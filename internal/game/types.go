package game

import "time"

type NetWorth struct {
	UserID     string `json:"user_id"`
	Wallet     int64  `json:"wallet"`
	Bank       int64  `json:"bank"`
	StockValue int64  `json:"stock_value"`
	Total      int64  `json:"total"`
}

type LeaderboardRow struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Wallet int64  `json:"wallet"`
	Bank   int64  `json:"bank"`
	Total  int64  `json:"total"`
}

type BegLeaderboardRow struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	BegStats
}

type ShopListing struct {
	Item  string `json:"item"`
	Price int64  `json:"price"`
	Stock int64  `json:"stock"`
}

type PurchaseResult struct {
	Item      string    `json:"item"`
	Quantity  int64     `json:"quantity"`
	Cost      int64     `json:"cost"`
	Account   Account   `json:"account"`
	Inventory Inventory `json:"inventory"`
}

type InstrumentView struct {
	Symbol  string  `json:"symbol"`
	Price   int64   `json:"price"`
	History []int64 `json:"history"`
}

type PositionView struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
	Price  int64  `json:"price"`
	Value  int64  `json:"value"`
}

type PortfolioView struct {
	UserID    string         `json:"user_id"`
	Positions []PositionView `json:"positions"`
	Total     int64          `json:"total"`
}

type OrderResult struct {
	Symbol  string  `json:"symbol"`
	Shares  int64   `json:"shares"`
	Price   int64   `json:"price"`
	Total   int64   `json:"total"`
	Account Account `json:"account"`
}

type TradeProposal struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Give      string    `json:"give"`
	Want      string    `json:"want"`
	Guild     string    `json:"guild"`
	CreatedAt time.Time `json:"created_at"`
}

type TradeResult struct {
	Proposal      TradeProposal `json:"proposal"`
	FromInventory Inventory     `json:"from_inventory"`
	ToInventory   Inventory     `json:"to_inventory"`
}

type Regime string

const (
	RegimeMegaCrash Regime = "mega_crash"
	RegimeCrash     Regime = "crash"
	RegimeMegaBoom  Regime = "mega_boom"
	RegimeBoom      Regime = "boom"
	RegimeDrift     Regime = "drift"
)

type PriceMove struct {
	Symbol string  `json:"symbol"`
	Regime Regime  `json:"regime"`
	Old    int64   `json:"old"`
	New    int64   `json:"new"`
	Factor float64 `json:"factor"`
}

type MarketReport struct {
	At         time.Time   `json:"at"`
	GrowthBias float64     `json:"growth_bias"`
	Purchases  int64       `json:"purchases"`
	Moves      []PriceMove `json:"moves"`
}

// Shocks returns the moves produced by a non-drift regime.
func (r MarketReport) Shocks() []PriceMove {
	var out []PriceMove
	for _, m := range r.Moves {
		if m.Regime != RegimeDrift {
			out = append(out, m)
		}
	}
	return out
}

type RestockReport struct {
	At    time.Time        `json:"at"`
	Added map[string]int64 `json:"added"`
}

type InterestReport struct {
	At       time.Time `json:"at"`
	Accounts int       `json:"accounts"`
	Paid     int64     `json:"paid"`
}

type DividendReport struct {
	At       time.Time `json:"at"`
	Accounts int       `json:"accounts"`
	Paid     int64     `json:"paid"`
}

// Empty reports whether the restock added nothing.
func (r RestockReport) Empty() bool { return len(r.Added) == 0 }

func (r InterestReport) Empty() bool { return r.Paid == 0 }

func (r DividendReport) Empty() bool { return r.Paid == 0 }
