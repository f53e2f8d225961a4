package store

import (
	"context"
	"sync"
)

// MemoryBlob is an in-process backend. FailPut, when set, is consulted before
// every write and its error returned instead of storing the document.
type MemoryBlob struct {
	mu      sync.Mutex
	docs    map[string][]byte
	puts    map[string]int
	FailPut func(name string) error
}

func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{
		docs: make(map[string][]byte),
		puts: make(map[string]int),
	}
}

func (m *MemoryBlob) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[name]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *MemoryBlob) Put(_ context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		if err := m.FailPut(name); err != nil {
			return err
		}
	}
	raw := make([]byte, len(body))
	copy(raw, body)
	m.docs[name] = raw
	m.puts[name]++
	return nil
}

// Puts reports how many successful writes name has received.
func (m *MemoryBlob) Puts(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[name]
}
