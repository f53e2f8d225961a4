package game

import (
	"context"
	"math"
)

// allAccountKeys returns the lock keys for every account known right now.
// Accounts created after the snapshot are not part of the job's tick.
func (s *Service) allAccountKeys() ([]string, []string) {
	s.state.mu.RLock()
	ids := sortedKeys(s.state.accounts)
	s.state.mu.RUnlock()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}
	return ids, keys
}

// AccrueInterest adds floor(bank * rate) to every positive bank balance.
// The whole tick is saved or nothing is.
func (s *Service) AccrueInterest(ctx context.Context) (InterestReport, error) {
	ids, keys := s.allAccountKeys()
	var report InterestReport
	err := s.run(ctx, "interest", keys, func(t *txn) error {
		report.At = t.now
		for _, id := range ids {
			a := t.account(id)
			if a.Bank <= 0 {
				continue
			}
			interest := int64(math.Floor(float64(a.Bank) * s.settings.InterestRate))
			if interest <= 0 {
				continue
			}
			a.Bank += interest
			t.put(id, a)
			report.Accounts++
			report.Paid += interest
		}
		return nil
	})
	if err != nil {
		return InterestReport{}, err
	}
	return report, nil
}

// PayDividends credits floor(portfolio value * rate) to each shareholder's
// wallet. The market lock keeps prices fixed for the whole payout.
func (s *Service) PayDividends(ctx context.Context) (DividendReport, error) {
	ids, keys := s.allAccountKeys()
	keys = append(keys, marketKey)
	var report DividendReport
	err := s.run(ctx, "dividends", keys, func(t *txn) error {
		report.At = t.now
		s.state.mu.RLock()
		prices := make(map[string]int64, len(s.state.instruments))
		for sym, in := range s.state.instruments {
			prices[sym] = in.Price
		}
		s.state.mu.RUnlock()

		for _, id := range ids {
			a := t.account(id)
			var value int64
			for sym, n := range a.Portfolio {
				value += n * prices[sym]
			}
			payout := int64(math.Floor(float64(value) * s.settings.DividendRate))
			if payout <= 0 {
				continue
			}
			a.Wallet += payout
			t.put(id, a)
			report.Accounts++
			report.Paid += payout
		}
		return nil
	})
	if err != nil {
		return DividendReport{}, err
	}
	return report, nil
}
