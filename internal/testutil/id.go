// Package testutil provides deterministic substitutes for the engine's
// sources of entropy, so tests and golden traces are byte-stable.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// SequentialIDGenerator hands out "doc-000001", "doc-000002", ... in
// order.
//
// Substituted for the UUIDv7 generator via engine.WithIDGenerator, it
// makes document IDs stable across runs so golden traces can compare
// byte-for-byte.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDGenerator creates a generator with the given prefix.
// An empty prefix defaults to "doc".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "doc"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID in sequence.
//
// Implements document.IDGenerator.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}

// Reset restarts the sequence. Used for scenario reuse.
func (g *SequentialIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// FixedNow returns a frozen wall-clock source that steps forward by a
// fixed increment on every call.
//
// Substituted via engine.WithNow, it makes document timestamps stable
// across runs. The first call returns start; each subsequent call
// advances by step.
func FixedNow(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}
