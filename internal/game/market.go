package game

import (
	"context"
	"math"
)

// regimeRule is one shock regime. A rule fires for an instrument when its
// tick trigger came up and the price is inside the eligible band.
type regimeRule struct {
	regime   Regime
	odds     int64
	eligible func(price int64) bool
	lo, hi   float64
}

// Rules in priority order; the first eligible triggered rule wins.
var regimeRules = []regimeRule{
	{RegimeMegaCrash, 100, func(p int64) bool { return p > 10000 }, 0.1, 0.3},
	{RegimeCrash, 15, func(p int64) bool { return p > 5000 }, 0.4, 0.8},
	{RegimeMegaBoom, 100, func(p int64) bool { return p < 2000 }, 6.0, 7.0},
	{RegimeBoom, 15, func(p int64) bool { return p < 3000 }, 2.3, 2.8},
}

// tickDraw holds the random choices shared by every instrument in a tick.
type tickDraw struct {
	bias      float64
	triggered map[Regime]bool
	factor    map[Regime]float64
}

func drawTick(r Rand) tickDraw {
	d := tickDraw{
		bias:      uniform(r, 0.01, 0.02),
		triggered: make(map[Regime]bool, len(regimeRules)),
		factor:    make(map[Regime]float64, len(regimeRules)),
	}
	for _, rule := range regimeRules {
		d.triggered[rule.regime] = r.Int63n(rule.odds) == 0
	}
	for _, rule := range regimeRules {
		d.factor[rule.regime] = uniform(r, rule.lo, rule.hi)
	}
	return d
}

// applyFactor scales a price, rounding to the nearest coin, and never
// returns less than 1. Drift moves use it.
func applyFactor(price int64, factor float64) int64 {
	return clampPrice(math.Round(float64(price) * factor))
}

// applyShock is applyFactor for shock regimes, which drop the fraction.
func applyShock(price int64, factor float64) int64 {
	return clampPrice(math.Trunc(float64(price) * factor))
}

func clampPrice(next float64) int64 {
	if next < 1 || math.IsNaN(next) {
		return 1
	}
	if next > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(next)
}

// simulate advances every instrument one tick. symbols fixes the draw order
// so a seeded Rand reproduces a tick exactly.
func simulate(instruments map[string]Instrument, symbols []string, purchases map[string]int64, r Rand, historyLen int) (map[string]Instrument, MarketReport) {
	d := drawTick(r)
	var total int64
	for _, sym := range symbols {
		total += purchases[sym]
	}
	report := MarketReport{GrowthBias: d.bias, Purchases: total}
	next := make(map[string]Instrument, len(symbols))

	for _, sym := range symbols {
		in := instruments[sym].Clone()
		old := max(in.Price, 1)
		move := PriceMove{Symbol: sym, Regime: RegimeDrift, Old: old}

		for _, rule := range regimeRules {
			if d.triggered[rule.regime] && rule.eligible(old) {
				move.Regime = rule.regime
				move.Factor = d.factor[rule.regime]
				break
			}
		}
		if move.Regime == RegimeDrift {
			var change float64
			if total > 0 {
				share := float64(purchases[sym]) / float64(total)
				change = 0.5*(share-0.25) + d.bias
			} else {
				change = uniform(r, -0.05, 0.05) + d.bias
			}
			move.Factor = 1 + change
			move.New = applyFactor(old, move.Factor)
		} else {
			move.New = applyShock(old, move.Factor)
		}

		in.Price = move.New
		in.History = append(in.History, move.New)
		if len(in.History) > historyLen {
			in.History = in.History[len(in.History)-historyLen:]
		}
		next[sym] = in
		report.Moves = append(report.Moves, move)
	}
	return next, report
}

// TickMarket runs one market simulation step and resets the purchase
// counters. If the tick cannot be saved the counters are handed back so the
// demand is not lost.
func (s *Service) TickMarket(ctx context.Context) (MarketReport, error) {
	s.purchasesMu.Lock()
	purchases := s.purchases
	s.purchases = map[string]int64{}
	s.purchasesMu.Unlock()

	symbols := make([]string, 0, len(s.settings.Instruments))
	for _, seed := range s.settings.Instruments {
		symbols = append(symbols, seed.Symbol)
	}

	var report MarketReport
	err := s.run(ctx, "market_tick", []string{marketKey}, func(t *txn) error {
		s.state.mu.RLock()
		current := copyMap(s.state.instruments)
		s.state.mu.RUnlock()
		next, r := simulate(current, symbols, purchases, s.rand, s.settings.HistoryLength)
		r.At = t.now
		report = r
		t.cs.instruments = next
		return nil
	})
	if err != nil {
		s.purchasesMu.Lock()
		for sym, n := range purchases {
			s.purchases[sym] += n
		}
		s.purchasesMu.Unlock()
		return MarketReport{}, err
	}
	for _, m := range report.Moves {
		s.observePrice(m.Symbol, m.New)
	}
	return report, nil
}
