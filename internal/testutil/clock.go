// Package testutil provides deterministic stand-ins for the fabric's
// nondeterministic inputs (time, identity) so scenario runs produce
// byte-identical traces.
package testutil

import (
	"sync"

	"github.com/loomworks/weft/internal/clock"
)

// FixedClock issues scripted hybrid-logical timestamps for tests.
//
// Each Now advances wall time by a fixed step, so the same scenario always
// produces the same timestamps. Unlike clock.Clock there is no drift
// policy: every observed timestamp is merged unconditionally.
//
// Implements the fabric.Clock interface.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type FixedClock struct {
	node    string
	startMS int64
	stepMS  int64

	mu      sync.Mutex
	wall    int64
	logical uint32
}

// NewFixedClock creates a clock for node starting at startMS, advancing
// wall time by stepMS on every Now. A non-positive stepMS defaults to 1.
func NewFixedClock(node string, startMS, stepMS int64) *FixedClock {
	if stepMS <= 0 {
		stepMS = 1
	}
	return &FixedClock{node: node, startMS: startMS, stepMS: stepMS, wall: startMS}
}

// Node returns the clock's node identity.
func (c *FixedClock) Node() string { return c.node }

// Now returns the next scripted timestamp.
func (c *FixedClock) Now() (clock.Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall += c.stepMS
	c.logical = 0
	return clock.Timestamp{WallMS: c.wall, Logical: c.logical, Node: c.node}, nil
}

// Observe merges a remote timestamp without any drift bound and returns a
// reading ordered after both it and the local state.
func (c *FixedClock) Observe(remote clock.Timestamp) (clock.Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case remote.WallMS > c.wall:
		c.wall = remote.WallMS
		c.logical = remote.Logical + 1
	case remote.WallMS == c.wall && remote.Logical >= c.logical:
		c.logical = remote.Logical + 1
	default:
		c.logical++
	}
	return clock.Timestamp{WallMS: c.wall, Logical: c.logical, Node: c.node}, nil
}

// Last returns the current scripted state without advancing it.
func (c *FixedClock) Last() clock.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clock.Timestamp{WallMS: c.wall, Logical: c.logical, Node: c.node}
}

// Reset rewinds the clock to its start state for test reuse. After Reset
// the same scenario replays with identical timestamps.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.startMS
	c.logical = 0
}
