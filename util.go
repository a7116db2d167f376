package qredit

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Random is the source used for peer selection. *rand.Rand is not safe for
// concurrent use, lockedRand wraps it.
type Random interface {
	IntN(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandom(seed1, seed2 uint64) Random {
	return &lockedRand{r: rand.New(rand.NewPCG(seed1, seed2))}
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

type Clock func() time.Time
