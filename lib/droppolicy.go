package lib

import (
	"math/rand"
	"sync"
	"time"
)

// DropPolicy discards inbound units to emulate a lossy forward channel.
// Every decision is independent of the previous ones.
type DropPolicy struct {
	Probability int // 0..100

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropPolicy seeds from the clock. Use NewSeededDropPolicy for repeatable runs.
func NewDropPolicy(probability int) *DropPolicy {
	return NewSeededDropPolicy(probability, time.Now().UnixNano())
}

func NewSeededDropPolicy(probability int, seed int64) *DropPolicy {
	if probability < 0 {
		probability = 0
	}
	if probability > 100 {
		probability = 100
	}
	return &DropPolicy{
		Probability: probability,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Drop draws a uniform integer in [0,100) and reports whether it falls
// below the configured probability.
func (d *DropPolicy) Drop() bool {
	if d == nil || d.Probability <= 0 {
		return false
	}
	d.mu.Lock()
	draw := d.rng.Intn(100)
	d.mu.Unlock()
	return draw < d.Probability
}

// DropFunc decides the fate of a single datagram on an in-memory pipe.
type DropFunc func(b []byte) bool

// Func adapts the policy to a DropFunc.
func (d *DropPolicy) Func() DropFunc {
	return func([]byte) bool { return d.Drop() }
}
