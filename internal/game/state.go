package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"coinbot/internal/store"
)

// AccountStore is whole-store persistence for accounts: load everything,
// save everything. There is no partial update.
type AccountStore interface {
	LoadAccounts(ctx context.Context) (map[string]Account, error)
	SaveAccounts(ctx context.Context, accounts map[string]Account) error
}

type InstrumentStore interface {
	LoadInstruments(ctx context.Context) (map[string]Instrument, error)
	SaveInstruments(ctx context.Context, instruments map[string]Instrument) error
}

// Store is every document the engine owns. A missing document loads as a
// nil map with a nil error.
type Store interface {
	AccountStore
	InstrumentStore
	LoadInventories(ctx context.Context) (map[string]Inventory, error)
	SaveInventories(ctx context.Context, inventories map[string]Inventory) error
	LoadShopStock(ctx context.Context) (map[string]int64, error)
	SaveShopStock(ctx context.Context, stock map[string]int64) error
	LoadBegStats(ctx context.Context) (map[string]BegStats, error)
	SaveBegStats(ctx context.Context, stats map[string]BegStats) error
}

// DocumentStore encodes each logical store as one JSON document in a blob
// backend.
type DocumentStore struct {
	blob store.Blob
}

func NewDocumentStore(blob store.Blob) *DocumentStore {
	return &DocumentStore{blob: blob}
}

func loadDoc[T any](ctx context.Context, blob store.Blob, name string) (T, error) {
	var out T
	raw, err := blob.Get(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return out, nil
		}
		return out, &PersistenceError{Doc: name, Err: err}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &PersistenceError{Doc: name, Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

func saveDoc(ctx context.Context, blob store.Blob, name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Doc: name, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := blob.Put(ctx, name, raw); err != nil {
		return &PersistenceError{Doc: name, Err: err}
	}
	return nil
}

func (d *DocumentStore) LoadAccounts(ctx context.Context) (map[string]Account, error) {
	return loadDoc[map[string]Account](ctx, d.blob, DocAccounts)
}

func (d *DocumentStore) SaveAccounts(ctx context.Context, v map[string]Account) error {
	return saveDoc(ctx, d.blob, DocAccounts, v)
}

func (d *DocumentStore) LoadInstruments(ctx context.Context) (map[string]Instrument, error) {
	return loadDoc[map[string]Instrument](ctx, d.blob, DocInstruments)
}

func (d *DocumentStore) SaveInstruments(ctx context.Context, v map[string]Instrument) error {
	return saveDoc(ctx, d.blob, DocInstruments, v)
}

func (d *DocumentStore) LoadInventories(ctx context.Context) (map[string]Inventory, error) {
	return loadDoc[map[string]Inventory](ctx, d.blob, DocInventories)
}

func (d *DocumentStore) SaveInventories(ctx context.Context, v map[string]Inventory) error {
	return saveDoc(ctx, d.blob, DocInventories, v)
}

func (d *DocumentStore) LoadShopStock(ctx context.Context) (map[string]int64, error) {
	return loadDoc[map[string]int64](ctx, d.blob, DocShopStock)
}

func (d *DocumentStore) SaveShopStock(ctx context.Context, v map[string]int64) error {
	return saveDoc(ctx, d.blob, DocShopStock, v)
}

func (d *DocumentStore) LoadBegStats(ctx context.Context) (map[string]BegStats, error) {
	return loadDoc[map[string]BegStats](ctx, d.blob, DocBegStats)
}

func (d *DocumentStore) SaveBegStats(ctx context.Context, v map[string]BegStats) error {
	return saveDoc(ctx, d.blob, DocBegStats, v)
}

// state is the loaded copy of every document. Records stored in the maps
// are never mutated in place; writers clone, change, and commit.
type state struct {
	mu          sync.RWMutex
	accounts    map[string]Account
	inventories map[string]Inventory
	shop        map[string]int64
	instruments map[string]Instrument
	begStats    map[string]BegStats
}

// changeset is what one operation wants to write. Nil maps are untouched.
type changeset struct {
	accounts    map[string]Account
	inventories map[string]Inventory
	begStats    map[string]BegStats
	shop        map[string]int64
	instruments map[string]Instrument
}

func (c *changeset) putAccount(id string, a Account) {
	if c.accounts == nil {
		c.accounts = map[string]Account{}
	}
	c.accounts[id] = a
}

func (c *changeset) putInventory(id string, inv Inventory) {
	if c.inventories == nil {
		c.inventories = map[string]Inventory{}
	}
	c.inventories[id] = inv
}

func (c *changeset) empty() bool {
	return len(c.accounts) == 0 && len(c.inventories) == 0 && len(c.begStats) == 0 &&
		c.shop == nil && len(c.instruments) == 0
}

type pendingDoc struct {
	name    string
	save    func(context.Context) error
	restore func(context.Context) error
	install func()
}

// commit writes every touched document and only then installs the new maps.
// If a save fails, documents already written are rewritten with their prior
// content and the in-memory state is left as it was.
func (s *Service) commit(ctx context.Context, cs *changeset) (map[string]Account, error) {
	if cs.empty() {
		return nil, nil
	}
	st := &s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	prevAccounts := make(map[string]Account, len(cs.accounts))
	var docs []pendingDoc

	if len(cs.accounts) > 0 {
		next := copyMap(st.accounts)
		for id, a := range cs.accounts {
			prevAccounts[id] = st.accounts[id]
			next[id] = a
		}
		old := st.accounts
		docs = append(docs, pendingDoc{
			name:    DocAccounts,
			save:    func(ctx context.Context) error { return s.store.SaveAccounts(ctx, next) },
			restore: func(ctx context.Context) error { return s.store.SaveAccounts(ctx, old) },
			install: func() { st.accounts = next },
		})
	}
	if len(cs.inventories) > 0 {
		next := copyMap(st.inventories)
		for id, inv := range cs.inventories {
			if len(inv) == 0 {
				delete(next, id)
				continue
			}
			next[id] = inv
		}
		old := st.inventories
		docs = append(docs, pendingDoc{
			name:    DocInventories,
			save:    func(ctx context.Context) error { return s.store.SaveInventories(ctx, next) },
			restore: func(ctx context.Context) error { return s.store.SaveInventories(ctx, old) },
			install: func() { st.inventories = next },
		})
	}
	if cs.shop != nil {
		next := cs.shop
		old := st.shop
		docs = append(docs, pendingDoc{
			name:    DocShopStock,
			save:    func(ctx context.Context) error { return s.store.SaveShopStock(ctx, next) },
			restore: func(ctx context.Context) error { return s.store.SaveShopStock(ctx, old) },
			install: func() { st.shop = next },
		})
	}
	if len(cs.instruments) > 0 {
		next := copyMap(st.instruments)
		for sym, in := range cs.instruments {
			next[sym] = in
		}
		old := st.instruments
		docs = append(docs, pendingDoc{
			name:    DocInstruments,
			save:    func(ctx context.Context) error { return s.store.SaveInstruments(ctx, next) },
			restore: func(ctx context.Context) error { return s.store.SaveInstruments(ctx, old) },
			install: func() { st.instruments = next },
		})
	}
	if len(cs.begStats) > 0 {
		next := copyMap(st.begStats)
		for id, b := range cs.begStats {
			next[id] = b
		}
		old := st.begStats
		docs = append(docs, pendingDoc{
			name:    DocBegStats,
			save:    func(ctx context.Context) error { return s.store.SaveBegStats(ctx, next) },
			restore: func(ctx context.Context) error { return s.store.SaveBegStats(ctx, old) },
			install: func() { st.begStats = next },
		})
	}

	// A started commit runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	for i, d := range docs {
		if err := d.save(ctx); err != nil {
			for _, done := range docs[:i] {
				if rerr := done.restore(ctx); rerr != nil {
					s.log.Error("restore after failed commit", "doc", done.name, "err", rerr)
				}
			}
			var perr *PersistenceError
			if !errors.As(err, &perr) {
				err = &PersistenceError{Doc: d.name, Err: err}
			}
			return nil, err
		}
	}
	for _, d := range docs {
		d.install()
	}
	return prevAccounts, nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// load reads every document once and seeds instruments and shop stock.
func (s *Service) load(ctx context.Context) error {
	accounts, err := s.store.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	inventories, err := s.store.LoadInventories(ctx)
	if err != nil {
		return err
	}
	begStats, err := s.store.LoadBegStats(ctx)
	if err != nil {
		return err
	}
	instruments, err := s.store.LoadInstruments(ctx)
	if err != nil {
		return err
	}
	shop, err := s.store.LoadShopStock(ctx)
	if err != nil {
		return err
	}

	st := &s.state
	st.mu.Lock()
	st.accounts = normalizeAccounts(accounts)
	st.inventories = normalizeInventories(inventories)
	st.begStats = orEmpty(begStats)
	st.instruments = map[string]Instrument{}
	st.shop = map[string]int64{}
	st.mu.Unlock()

	seededInstruments, changed := seedInstruments(instruments, s.settings.Instruments)
	if changed {
		if err := s.store.SaveInstruments(ctx, seededInstruments); err != nil {
			return err
		}
	}
	seededShop, changed := seedShop(shop, s.settings.ShopItems)
	if changed {
		if err := s.store.SaveShopStock(ctx, seededShop); err != nil {
			return err
		}
	}

	st.mu.Lock()
	st.instruments = seededInstruments
	st.shop = seededShop
	st.mu.Unlock()
	return nil
}

func orEmpty[V any](in map[string]V) map[string]V {
	if in == nil {
		return map[string]V{}
	}
	return in
}

func normalizeAccounts(in map[string]Account) map[string]Account {
	out := make(map[string]Account, len(in))
	for id, a := range in {
		if a.Portfolio == nil {
			a.Portfolio = map[string]int64{}
		}
		out[NormalizeID(id)] = a
	}
	return out
}

func normalizeInventories(in map[string]Inventory) map[string]Inventory {
	out := make(map[string]Inventory, len(in))
	for id, inv := range in {
		clean := inv.Clone()
		if len(clean) > 0 {
			out[NormalizeID(id)] = clean
		}
	}
	return out
}

// seedInstruments returns the instrument table for the configured symbols,
// adopting stored entries whose symbol differs only in case and replacing
// missing or malformed ones with the seed price.
func seedInstruments(stored map[string]Instrument, seeds []InstrumentSeed) (map[string]Instrument, bool) {
	out := make(map[string]Instrument, len(seeds))
	changed := stored == nil || len(stored) != len(seeds)
	for _, seed := range seeds {
		entry, ok := stored[seed.Symbol]
		if !ok {
			for k, v := range stored {
				if strings.EqualFold(k, seed.Symbol) {
					entry, ok = v, true
					changed = true
					break
				}
			}
		}
		if !ok || entry.Price < 1 || entry.History == nil {
			entry = Instrument{Price: seed.Price, History: []int64{seed.Price}}
			changed = true
		}
		out[seed.Symbol] = entry
	}
	return out, changed
}

func seedShop(stored map[string]int64, items []ShopItem) (map[string]int64, bool) {
	changed := stored == nil
	out := make(map[string]int64, len(items))
	for k, v := range stored {
		if v < 0 {
			v = 0
			changed = true
		}
		out[k] = v
	}
	for _, item := range items {
		if _, ok := out[item.Name]; !ok {
			out[item.Name] = 0
			changed = true
		}
	}
	return out, changed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
