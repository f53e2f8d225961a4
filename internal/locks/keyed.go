// Package locks provides a keyed mutex set that acquires several keys in a
// fixed order so that two callers naming the same keys can never deadlock.
package locks

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Keyed hands out one exclusive lock per key. Entries are reference counted
// and dropped once nobody holds or waits on them.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire locks every key in sorted order and returns a release func that
// unlocks them in reverse. Duplicate keys are collapsed. If ctx is cancelled
// while waiting, keys already taken are released and ctx.Err() is returned.
func (k *Keyed) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := Order(keys...)
	held := make([]*entry, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
		}
		k.mu.Lock()
		for i, key := range ordered[:len(held)] {
			e := held[i]
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
		}
		k.mu.Unlock()
	}

	for _, key := range ordered {
		e := k.ref(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, e)
		case <-ctx.Done():
			k.unref(key, e)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Held reports how many keys currently have an entry (held or waited on).
func (k *Keyed) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Order returns the sorted, de-duplicated acquisition order for keys.
func Order(keys ...string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
