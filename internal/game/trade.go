package game

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TradeBook holds at most one pending proposal per recipient. It lives for
// the life of the process and is never persisted.
type TradeBook struct {
	mu        sync.Mutex
	proposals map[string]TradeProposal
}

func NewTradeBook() *TradeBook {
	return &TradeBook{proposals: map[string]TradeProposal{}}
}

// Put stores p, replacing any earlier proposal to the same recipient.
func (b *TradeBook) Put(p TradeProposal) {
	b.mu.Lock()
	b.proposals[p.To] = p
	b.mu.Unlock()
}

func (b *TradeBook) Get(to string) (TradeProposal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.proposals[to]
	return p, ok
}

// Remove deletes the recipient's proposal if it is still the one with id.
func (b *TradeBook) Remove(to, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.proposals[to]
	if !ok || p.ID != id {
		return false
	}
	delete(b.proposals, to)
	return true
}

func (b *TradeBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.proposals)
}

func (s *Service) canonicalItem(name string) string {
	if it, ok := MatchItem(s.settings.ShopItems, name); ok {
		return it.Name
	}
	return strings.TrimSpace(name)
}

// ProposeTrade offers one unit of give for one unit of want. The proposer
// must hold give now; the recipient is only checked on acceptance.
func (s *Service) ProposeTrade(ctx context.Context, from, to Party, give, want, guild string) (TradeProposal, error) {
	from, to = normalizeParty(from), normalizeParty(to)
	if err := checkPair(from, to); err != nil {
		s.observe("trade", err)
		return TradeProposal{}, err
	}
	give, want = s.canonicalItem(give), s.canonicalItem(want)
	if give == "" || want == "" {
		err := &NotFoundError{Kind: "item"}
		s.observe("trade", err)
		return TradeProposal{}, err
	}
	if s.Inventory(from.ID)[give] <= 0 {
		err := &NotFoundError{Kind: "offered item", Key: give}
		s.observe("trade", err)
		return TradeProposal{}, err
	}
	p := TradeProposal{
		ID:        uuid.NewString(),
		From:      from.ID,
		To:        to.ID,
		Give:      give,
		Want:      want,
		Guild:     guild,
		CreatedAt: s.now().UTC(),
	}
	s.trades.Put(p)
	s.observe("trade", nil)
	return p, nil
}

func (s *Service) PendingTrade(to string) (TradeProposal, bool) {
	return s.trades.Get(NormalizeID(to))
}

func (s *Service) CancelTrade(to string) bool {
	id := NormalizeID(to)
	p, ok := s.trades.Get(id)
	if !ok {
		return false
	}
	return s.trades.Remove(id, p.ID)
}

// AcceptTrade swaps one unit of each item between proposer and recipient.
// Holdings are re-checked under both account locks. A proposer who no longer
// holds the offered item voids the proposal; a recipient missing the wanted
// item leaves it pending.
func (s *Service) AcceptTrade(ctx context.Context, to Party, guild string) (TradeResult, error) {
	to = normalizeParty(to)
	p, ok := s.trades.Get(to.ID)
	if !ok {
		err := &NotFoundError{Kind: "trade proposal"}
		s.observe("accepttrade", err)
		return TradeResult{}, err
	}
	if p.Guild != "" && guild != "" && p.Guild != guild {
		err := &InvalidTargetError{Reason: "trade was proposed in a different server"}
		s.observe("accepttrade", err)
		return TradeResult{}, err
	}
	var res TradeResult
	err := s.run(ctx, "accepttrade", []string{accountKey(p.From), accountKey(p.To)}, func(t *txn) error {
		fromInv, toInv := t.inventory(p.From), t.inventory(p.To)
		if fromInv[p.Give] <= 0 {
			s.trades.Remove(p.To, p.ID)
			return &NotFoundError{Kind: "offered item", Key: p.Give}
		}
		if toInv[p.Want] <= 0 {
			return &NotFoundError{Kind: "wanted item", Key: p.Want}
		}
		fromInv.add(p.Give, -1)
		toInv.add(p.Want, -1)
		fromInv.add(p.Want, 1)
		toInv.add(p.Give, 1)
		t.putInventory(p.From, fromInv)
		t.putInventory(p.To, toInv)
		res = TradeResult{Proposal: p, FromInventory: fromInv.Clone(), ToInventory: toInv.Clone()}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.trades.Remove(p.To, p.ID)
	return res, nil
}
