package game

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// Rand is the subset of *math/rand.Rand the engine draws from.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

type lockedRand struct {
	mu sync.Mutex
	r  Rand
}

func newLockedRand(r Rand) *lockedRand {
	if r == nil {
		r = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return &lockedRand{r: r}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// intBetween draws uniformly from [lo, hi]; hi below lo collapses to lo.
func intBetween(r Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Int63n(hi-lo+1)
}

func uniform(r Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}
