package game

import (
	"context"
	"sort"
)

const (
	minBoardSize     = 3
	maxBoardSize     = 25
	defaultBoardSize = 10
)

func clampBoardSize(n int) int {
	if n == 0 {
		n = defaultBoardSize
	}
	return max(minBoardSize, min(maxBoardSize, n))
}

func memberFilter(members []string) func(string) bool {
	if members == nil {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[NormalizeID(m)] = true
	}
	return func(id string) bool { return set[id] }
}

// NetWorth values the user's holdings at current prices.
func (s *Service) NetWorth(ctx context.Context, user string) (NetWorth, error) {
	a, err := s.GetOrCreate(ctx, user)
	if err != nil {
		return NetWorth{}, err
	}
	s.state.mu.RLock()
	var stocks int64
	for sym, n := range a.Portfolio {
		stocks += n * s.state.instruments[sym].Price
	}
	s.state.mu.RUnlock()
	return NetWorth{
		UserID:     NormalizeID(user),
		Wallet:     a.Wallet,
		Bank:       a.Bank,
		StockValue: stocks,
		Total:      a.Wallet + a.Bank + stocks,
	}, nil
}

// Baltop ranks existing accounts by wallet plus bank. A nil members slice
// ranks everyone; otherwise only the listed ids are considered.
func (s *Service) Baltop(members []string, n int) []LeaderboardRow {
	keep := memberFilter(members)
	s.state.mu.RLock()
	rows := make([]LeaderboardRow, 0, len(s.state.accounts))
	for id, a := range s.state.accounts {
		if !keep(id) {
			continue
		}
		rows = append(rows, LeaderboardRow{UserID: id, Wallet: a.Wallet, Bank: a.Bank, Total: a.Wallet + a.Bank})
	}
	s.state.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].UserID < rows[j].UserID
	})
	rows = rows[:min(len(rows), clampBoardSize(n))]
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

func (s *Service) BegLeaderboard(members []string, n int) []BegLeaderboardRow {
	keep := memberFilter(members)
	s.state.mu.RLock()
	rows := make([]BegLeaderboardRow, 0, len(s.state.begStats))
	for id, st := range s.state.begStats {
		if keep(id) {
			rows = append(rows, BegLeaderboardRow{UserID: id, BegStats: st})
		}
	}
	s.state.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		if a.TotalBegs != b.TotalBegs {
			return a.TotalBegs > b.TotalBegs
		}
		return a.UserID < b.UserID
	})
	rows = rows[:min(len(rows), clampBoardSize(n))]
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
