package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/internal/clock"
)

func TestFixedClock_ScriptedAdvance(t *testing.T) {
	c := NewFixedClock("test-node", 1000, 10)

	ts1, err := c.Now()
	require.NoError(t, err)
	ts2, err := c.Now()
	require.NoError(t, err)

	assert.Equal(t, int64(1010), ts1.WallMS)
	assert.Equal(t, int64(1020), ts2.WallMS)
	assert.Equal(t, "test-node", ts1.Node)
	assert.True(t, ts1.Before(ts2))
}

func TestFixedClock_ResetReplaysIdentically(t *testing.T) {
	c := NewFixedClock("test-node", 0, 1)

	var first []clock.Timestamp
	for i := 0; i < 5; i++ {
		ts, err := c.Now()
		require.NoError(t, err)
		first = append(first, ts)
	}

	c.Reset()
	for i := 0; i < 5; i++ {
		ts, err := c.Now()
		require.NoError(t, err)
		assert.Equal(t, first[i], ts)
	}
}

func TestFixedClock_ObserveMergesWithoutDriftBound(t *testing.T) {
	c := NewFixedClock("local", 100, 1)

	// A remote far in the future is absorbed, not rejected.
	ts, err := c.Observe(clock.Timestamp{WallMS: 999999, Logical: 7, Node: "remote"})
	require.NoError(t, err)
	assert.Equal(t, int64(999999), ts.WallMS)
	assert.Equal(t, uint32(8), ts.Logical)
	assert.Equal(t, "local", ts.Node)
}

func TestSequentialGenerator_PredictableIDs(t *testing.T) {
	g := NewSequentialGenerator("ev")
	assert.Equal(t, "ev-0001", g.Generate())
	assert.Equal(t, "ev-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "ev-0001", g.Generate())
}
