package testutil

import (
	"fmt"
	"sync"
)

// SequentialGenerator produces predictable event IDs of the form
// "<prefix>-0001", "<prefix>-0002", and so on.
//
// Unlike fabric.FixedGenerator, which replays an explicit finite list,
// SequentialGenerator never exhausts. Scenario traces stay byte-identical
// across runs because the same emission order always yields the same IDs.
//
// Implements the fabric.IDGenerator interface.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialGenerator struct {
	prefix string

	mu sync.Mutex
	n  int
}

// NewSequentialGenerator creates a generator with the given ID prefix.
// An empty prefix defaults to "ev".
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "ev"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next sequential ID.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset rewinds the counter for test reuse.
func (g *SequentialGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
