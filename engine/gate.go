package engine

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate is a bounded pool limiting concurrent isolated executions.
// Acquire is non-blocking: a saturated gate rejects immediately instead
// of queuing, bounding worst-case tail latency.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate admitting at most maxSlots concurrent holders
func NewGate(maxSlots int) *Gate {
	if maxSlots <= 0 {
		maxSlots = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(maxSlots))}
}

// Acquire attempts to take a slot without blocking. The second return
// value reports whether a slot was granted.
func (g *Gate) Acquire() (*Slot, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return &Slot{gate: g}, true
}

// Slot is a held concurrency slot. Release is safe to call more than
// once; only the first call returns the slot to the gate.
type Slot struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot to the gate exactly once
func (s *Slot) Release() {
	s.once.Do(func() {
		s.gate.sem.Release(1)
	})
}
