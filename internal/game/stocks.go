package game

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// MatchSymbol resolves a case-insensitive symbol to its configured form.
func (s *Service) MatchSymbol(symbol string) (string, bool) {
	symbol = strings.TrimSpace(symbol)
	for _, in := range s.settings.Instruments {
		if strings.EqualFold(in.Symbol, symbol) {
			return in.Symbol, true
		}
	}
	return "", false
}

func (s *Service) resolveOrder(op, symbol string, shares int64) (string, error) {
	sym, ok := s.MatchSymbol(symbol)
	if !ok {
		err := &NotFoundError{Kind: "instrument", Key: strings.TrimSpace(symbol)}
		s.observe(op, err)
		return "", err
	}
	if shares <= 0 {
		err := fmt.Errorf("%w: shares must be > 0", ErrInvalidAmount)
		s.observe(op, err)
		return "", err
	}
	return sym, nil
}

// BuyStock buys shares at the current price. Bought shares count toward the
// demand term of the next market tick.
func (s *Service) BuyStock(ctx context.Context, user, symbol string, shares int64) (OrderResult, error) {
	sym, err := s.resolveOrder("buystock", symbol, shares)
	if err != nil {
		return OrderResult{}, err
	}
	id, err := s.userID("buystock", user)
	if err != nil {
		return OrderResult{}, err
	}
	var res OrderResult
	err = s.run(ctx, "buystock", []string{accountKey(id), marketKey}, func(t *txn) error {
		price := s.price(sym)
		a := t.account(id)
		cost, err := orderTotal(price, shares)
		if err != nil {
			return err
		}
		if a.Wallet < cost {
			return &FundsError{Balance: "wallet", Have: a.Wallet, Need: cost}
		}
		a.Wallet -= cost
		a.Portfolio[sym] += shares
		t.put(id, a)
		res = OrderResult{Symbol: sym, Shares: shares, Price: price, Total: cost, Account: a.Clone()}
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	s.recordPurchase(sym, shares)
	return res, nil
}

func (s *Service) SellStock(ctx context.Context, user, symbol string, shares int64) (OrderResult, error) {
	sym, err := s.resolveOrder("sellstock", symbol, shares)
	if err != nil {
		return OrderResult{}, err
	}
	id, err := s.userID("sellstock", user)
	if err != nil {
		return OrderResult{}, err
	}
	var res OrderResult
	err = s.run(ctx, "sellstock", []string{accountKey(id), marketKey}, func(t *txn) error {
		a := t.account(id)
		owned := a.Portfolio[sym]
		if owned < shares {
			return &FundsError{Balance: sym + " shares", Have: owned, Need: shares}
		}
		price := s.price(sym)
		proceeds, err := orderTotal(price, shares)
		if err != nil {
			return err
		}
		if a.Wallet > math.MaxInt64-proceeds {
			return fmt.Errorf("%w: wallet cannot hold %d more", ErrInvalidAmount, proceeds)
		}
		if owned == shares {
			delete(a.Portfolio, sym)
		} else {
			a.Portfolio[sym] = owned - shares
		}
		a.Wallet += proceeds
		t.put(id, a)
		res = OrderResult{Symbol: sym, Shares: shares, Price: price, Total: proceeds, Account: a.Clone()}
		return nil
	})
	return res, err
}

// orderTotal is price * qty, or ErrInvalidAmount when the product would
// not fit in an int64.
func orderTotal(price, qty int64) (int64, error) {
	if price > 0 && qty > math.MaxInt64/price {
		return 0, fmt.Errorf("%w: %d at %d overflows", ErrInvalidAmount, qty, price)
	}
	return price * qty, nil
}

func (s *Service) price(sym string) int64 {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return s.state.instruments[sym].Price
}

func (s *Service) recordPurchase(sym string, shares int64) {
	s.purchasesMu.Lock()
	s.purchases[sym] += shares
	s.purchasesMu.Unlock()
}

// Purchases returns the shares bought since the last market tick.
func (s *Service) Purchases() map[string]int64 {
	s.purchasesMu.Lock()
	defer s.purchasesMu.Unlock()
	return copyMap(s.purchases)
}

func (s *Service) Portfolio(user string) PortfolioView {
	id := NormalizeID(user)
	view := PortfolioView{UserID: id, Positions: []PositionView{}}
	a, ok := s.lookup(id)
	if !ok {
		return view
	}
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	for _, seed := range s.settings.Instruments {
		n := a.Portfolio[seed.Symbol]
		if n <= 0 {
			continue
		}
		price := s.state.instruments[seed.Symbol].Price
		view.Positions = append(view.Positions, PositionView{Symbol: seed.Symbol, Shares: n, Price: price, Value: n * price})
		view.Total += n * price
	}
	return view
}

// Market lists every instrument in configured order.
func (s *Service) Market() []InstrumentView {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	out := make([]InstrumentView, 0, len(s.settings.Instruments))
	for _, seed := range s.settings.Instruments {
		in := s.state.instruments[seed.Symbol]
		out = append(out, InstrumentView{Symbol: seed.Symbol, Price: in.Price, History: append([]int64(nil), in.History...)})
	}
	return out
}

func (s *Service) Instrument(symbol string) (InstrumentView, error) {
	sym, ok := s.MatchSymbol(symbol)
	if !ok {
		return InstrumentView{}, &NotFoundError{Kind: "instrument", Key: strings.TrimSpace(symbol)}
	}
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	in := s.state.instruments[sym]
	return InstrumentView{Symbol: sym, Price: in.Price, History: append([]int64(nil), in.History...)}, nil
}
