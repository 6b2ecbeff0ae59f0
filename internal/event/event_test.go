package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/internal/clock"
)

func testTimestamp() clock.Timestamp {
	return clock.Timestamp{WallMS: 1700000000000, Logical: 3, Node: "node-a"}
}

func TestNew_ComputesIntegrityHash(t *testing.T) {
	ev, err := New("ev-1", testTimestamp(), "worldline-w", CategoryMeaning,
		Payload{Kind: "note", Data: json.RawMessage(`{"text":"hello"}`)},
		[]string{"ev-0"})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.IntegrityHash)
	assert.Len(t, ev.IntegrityHash, 64, "hex-encoded SHA-256")
	assert.True(t, ev.Verify())
}

func TestNew_RejectsUnknownCategory(t *testing.T) {
	_, err := New("ev-1", testTimestamp(), "w", Category("bogus"), Payload{Kind: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestNew_RejectsEmptyOrigin(t *testing.T) {
	_, err := New("ev-1", testTimestamp(), "", CategorySystem, Payload{Kind: "x"}, nil)
	require.Error(t, err)
}

func TestNew_RejectsEmptyID(t *testing.T) {
	_, err := New("", testTimestamp(), "w", CategorySystem, Payload{Kind: "x"}, nil)
	require.Error(t, err)
}

func TestNew_CopiesParentSlice(t *testing.T) {
	parents := []string{"ev-0"}
	ev, err := New("ev-1", testTimestamp(), "w", CategoryIntent, Payload{Kind: "x"}, parents)
	require.NoError(t, err)

	parents[0] = "mutated"
	assert.Equal(t, "ev-0", ev.ParentIDs[0])
	assert.True(t, ev.Verify(), "caller mutation must not affect the event")
}

func TestVerify_DetectsSingleFieldTamper(t *testing.T) {
	base, err := New("ev-1", testTimestamp(), "w", CategoryCommitment,
		Payload{Kind: "vote", Data: json.RawMessage(`{"n":1}`)}, []string{"ev-0"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"id", func(ev *Event) { ev.ID = "ev-2" }},
		{"wall time", func(ev *Event) { ev.Timestamp.WallMS++ }},
		{"logical", func(ev *Event) { ev.Timestamp.Logical++ }},
		{"node", func(ev *Event) { ev.Timestamp.Node = "other" }},
		{"origin", func(ev *Event) { ev.Origin = "w2" }},
		{"category", func(ev *Event) { ev.Category = CategorySystem }},
		{"payload kind", func(ev *Event) { ev.Payload.Kind = "veto" }},
		{"payload data", func(ev *Event) { ev.Payload.Data = json.RawMessage(`{"n":2}`) }},
		{"parent", func(ev *Event) { ev.ParentIDs[0] = "ev-9" }},
		{"hash itself", func(ev *Event) { ev.IntegrityHash = "00" + ev.IntegrityHash[2:] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			ev.ParentIDs = append([]string(nil), base.ParentIDs...)
			tt.mutate(&ev)
			assert.False(t, ev.Verify(), "tampered %s must fail verification", tt.name)
		})
	}
}

func TestIntegrityHash_FieldBoundaryUnambiguous(t *testing.T) {
	// Length prefixes must keep adjacent fields from colliding.
	a, err := New("ev-1", testTimestamp(), "ab", CategorySystem, Payload{Kind: "c"}, nil)
	require.NoError(t, err)
	b, err := New("ev-1", testTimestamp(), "a", CategorySystem, Payload{Kind: "bc"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.IntegrityHash, b.IntegrityHash)
}

func TestNew_NFCNormalizationStableHash(t *testing.T) {
	// Precomposed U+00E9 vs decomposed U+0065 U+0301 must hash the same.
	composed, err := New("ev-1", testTimestamp(), "caf\u00e9", CategoryMeaning, Payload{Kind: "x"}, nil)
	require.NoError(t, err)
	decomposed, err := New("ev-1", testTimestamp(), "cafe\u0301", CategoryMeaning, Payload{Kind: "x"}, nil)
	require.NoError(t, err)

	assert.Equal(t, composed.IntegrityHash, decomposed.IntegrityHash)
	assert.Equal(t, composed.Origin, decomposed.Origin)
}

func TestMarshal_RoundTripVerifies(t *testing.T) {
	ev, err := New("ev-1", testTimestamp(), "w", CategoryConsequence,
		Payload{Kind: "effect", Data: json.RawMessage(`{"ok":true}`)}, []string{"p1", "p2"})
	require.NoError(t, err)

	data, err := ev.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.True(t, got.Verify())
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	require.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("nonsense")
	require.Error(t, err)
}
