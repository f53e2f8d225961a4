package game

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MatchItem resolves a typed item name against the catalogue, ignoring case
// and apostrophes.
func MatchItem(items []ShopItem, name string) (ShopItem, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, it := range items {
		if strings.ToLower(it.Name) == n {
			return it, true
		}
	}
	for _, it := range items {
		if strings.ReplaceAll(strings.ToLower(it.Name), "'", "") == strings.ReplaceAll(n, "'", "") {
			return it, true
		}
	}
	return ShopItem{}, false
}

// ParseItemAndQty accepts "item", "item 2" and "2 item". A missing or
// non-positive quantity reads as 1.
func ParseItemAndQty(raw string) (string, int64) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "", 1
	}
	if n, ok := parseCount(parts[0]); ok && len(parts) > 1 {
		return strings.Join(parts[1:], " "), max(1, n)
	}
	if n, ok := parseCount(parts[len(parts)-1]); ok && len(parts) > 1 {
		return strings.Join(parts[:len(parts)-1], " "), max(1, n)
	}
	return strings.Join(parts, " "), 1
}

func parseCount(s string) (int64, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// ShopListing returns catalogue items with their current stock, in
// catalogue order.
func (s *Service) ShopListing() []ShopListing {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	out := make([]ShopListing, 0, len(s.settings.ShopItems))
	for _, it := range s.settings.ShopItems {
		out = append(out, ShopListing{Item: it.Name, Price: it.Price, Stock: s.state.shop[it.Name]})
	}
	return out
}

// Buy purchases qty units of a catalogue item from shop stock.
func (s *Service) Buy(ctx context.Context, user, item string, qty int64) (PurchaseResult, error) {
	id, err := s.userID("buy", user)
	if err != nil {
		return PurchaseResult{}, err
	}
	it, ok := MatchItem(s.settings.ShopItems, item)
	if !ok {
		err := &NotFoundError{Kind: "item", Key: strings.TrimSpace(item)}
		s.observe("buy", err)
		return PurchaseResult{}, err
	}
	if qty < 1 {
		err := fmt.Errorf("%w: quantity must be at least 1", ErrInvalidAmount)
		s.observe("buy", err)
		return PurchaseResult{}, err
	}
	var res PurchaseResult
	err = s.run(ctx, "buy", []string{accountKey(id), shopKey}, func(t *txn) error {
		s.state.mu.RLock()
		available := s.state.shop[it.Name]
		stock := copyMap(s.state.shop)
		s.state.mu.RUnlock()
		if available < qty {
			return &StockError{Item: it.Name, Available: available, Want: qty}
		}
		a := t.account(id)
		cost, err := orderTotal(it.Price, qty)
		if err != nil {
			return err
		}
		if a.Wallet < cost {
			return &FundsError{Balance: "wallet", Have: a.Wallet, Need: cost}
		}
		a.Wallet -= cost
		stock[it.Name] = available - qty
		inv := t.inventory(id)
		inv.add(it.Name, qty)

		t.put(id, a)
		t.putInventory(id, inv)
		t.cs.shop = stock
		res = PurchaseResult{Item: it.Name, Quantity: qty, Cost: cost, Account: a.Clone(), Inventory: inv.Clone()}
		return nil
	})
	return res, err
}

func (s *Service) Inventory(user string) Inventory {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return s.state.inventories[NormalizeID(user)].Clone()
}

// InventoryItems lists an inventory by descending count, then name.
func InventoryItems(inv Inventory) []string {
	names := make([]string, 0, len(inv))
	for k := range inv {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if inv[names[i]] != inv[names[j]] {
			return inv[names[i]] > inv[names[j]]
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// RestockShop gives every catalogue item an independent chance to gain
// between 1 and RestockMaxAdd units.
func (s *Service) RestockShop(ctx context.Context) (RestockReport, error) {
	report := RestockReport{Added: map[string]int64{}}
	err := s.run(ctx, "restock", []string{shopKey}, func(t *txn) error {
		report.At = t.now
		s.state.mu.RLock()
		stock := copyMap(s.state.shop)
		s.state.mu.RUnlock()
		for _, it := range s.settings.ShopItems {
			if s.rand.Float64() >= s.settings.RestockChance {
				continue
			}
			n := intBetween(s.rand, 1, s.settings.RestockMaxAdd)
			stock[it.Name] += n
			report.Added[it.Name] = n
		}
		if len(report.Added) > 0 {
			t.cs.shop = stock
		}
		return nil
	})
	if err != nil {
		return RestockReport{}, err
	}
	return report, nil
}
