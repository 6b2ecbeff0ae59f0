// Package clock issues causally ordered hybrid-logical timestamps.
//
// A single Clock instance guarantees that any call to Now returning before
// another call begins yields a strictly smaller timestamp. The guarantee
// holds because the read-compare-update sequence runs inside one critical
// section; unsynchronized callers racing on wall time alone could observe
// equal or regressing readings.
//
// Drift policy: wall-clock skew within MaxDriftMS of the last accepted
// reading is absorbed by holding the accepted wall time and ticking the
// logical counter (clamp). Skew beyond MaxDriftMS returns ErrDriftExceeded
// synchronously so producers can retry or alert instead of silently
// accepting a skewed timestamp. Both sides of the boundary are covered by
// tests (drift == MaxDriftMS absorbed, MaxDriftMS+1 rejected).
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDriftExceeded is returned when observed wall time skews beyond the
// configured bound. Match with errors.Is.
var ErrDriftExceeded = errors.New("clock drift exceeds configured bound")

// DriftError carries the measured skew for diagnostics.
// It wraps ErrDriftExceeded so errors.Is(err, ErrDriftExceeded) matches.
type DriftError struct {
	Node      string
	DriftMS   int64
	MaxDrift  int64
	Direction string // "behind" or "ahead"
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	return fmt.Sprintf("clock drift exceeds configured bound: %s by %dms (max %dms, node=%s)",
		e.Direction, e.DriftMS, e.MaxDrift, e.Node)
}

// Unwrap makes the error match ErrDriftExceeded via errors.Is.
func (e *DriftError) Unwrap() error { return ErrDriftExceeded }

// Clock is a hybrid-logical clock bound to one node identity.
//
// Thread-safety: all state transitions happen under an internal mutex.
// The critical section is tiny (compare + two field writes) so contention
// stays negligible even with many concurrent producers.
type Clock struct {
	node     string
	maxDrift int64 // milliseconds

	mu       sync.Mutex
	lastWall int64
	logical  uint32

	// nowMS is injectable for tests; defaults to wall time.
	nowMS func() int64
}

// New creates a clock for the given node identity with the given drift
// bound in milliseconds. A non-positive maxDriftMS disables drift
// rejection entirely (every regression is absorbed logically).
func New(node string, maxDriftMS int64) *Clock {
	return &Clock{
		node:     node,
		maxDrift: maxDriftMS,
		nowMS:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Node returns the clock's node identity.
func (c *Clock) Node() string { return c.node }

// MaxDriftMS returns the configured drift bound.
func (c *Clock) MaxDriftMS() int64 { return c.maxDrift }

// Now returns the next timestamp.
//
// If wall time advanced past the last accepted reading, it is adopted and
// the logical counter resets. If wall time stalled or regressed within the
// drift bound, the accepted reading holds and the counter ticks. A
// regression beyond the bound returns a *DriftError and issues nothing.
func (c *Clock) Now() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.nowMS()
	switch {
	case wall > c.lastWall:
		c.lastWall = wall
		c.logical = 0
	case c.maxDrift > 0 && c.lastWall-wall > c.maxDrift:
		return Timestamp{}, &DriftError{
			Node:      c.node,
			DriftMS:   c.lastWall - wall,
			MaxDrift:  c.maxDrift,
			Direction: "behind",
		}
	default:
		// Stalled or tolerably regressed wall clock: pure logical tick.
		c.logical++
	}

	return Timestamp{WallMS: c.lastWall, Logical: c.logical, Node: c.node}, nil
}

// Observe merges an externally observed timestamp and returns a fresh
// timestamp ordered after both the local state and the remote value.
//
// A remote wall reading more than MaxDriftMS ahead of local wall time is
// rejected with a *DriftError: accepting it would let one skewed peer drag
// the whole instance arbitrarily far into the future.
func (c *Clock) Observe(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.nowMS()
	if c.maxDrift > 0 && remote.WallMS-wall > c.maxDrift {
		return Timestamp{}, &DriftError{
			Node:      c.node,
			DriftMS:   remote.WallMS - wall,
			MaxDrift:  c.maxDrift,
			Direction: "ahead",
		}
	}

	switch {
	case wall > c.lastWall && wall > remote.WallMS:
		c.lastWall = wall
		c.logical = 0
	case remote.WallMS > c.lastWall:
		c.lastWall = remote.WallMS
		c.logical = remote.Logical + 1
	case remote.WallMS == c.lastWall && remote.Logical >= c.logical:
		c.logical = remote.Logical + 1
	default:
		c.logical++
	}

	return Timestamp{WallMS: c.lastWall, Logical: c.logical, Node: c.node}, nil
}

// Last returns the most recently issued timestamp components without
// advancing the clock. Used for observability.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Timestamp{WallMS: c.lastWall, Logical: c.logical, Node: c.node}
}

// withNowFunc swaps the wall-time source. Test hook; see clock_test.go and
// testutil.FixedClock for scripted time.
func (c *Clock) withNowFunc(fn func() int64) *Clock {
	c.nowMS = fn
	return c
}
