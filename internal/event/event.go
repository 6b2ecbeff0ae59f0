package event

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/loomworks/weft/internal/clock"
)

// Payload is the opaque tagged data an event carries.
//
// Kind names the producing collaborator's encoding; Data is raw JSON the
// fabric never interprets. Both participate in the integrity hash.
type Payload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is the immutable unit flowing through the fabric.
//
// Events are constructed exactly once via New and never mutated afterwards.
// IntegrityHash is a deterministic digest over every other field; Verify
// recomputes it to detect tampering or corruption.
//
// ParentIDs reference zero or more causally preceding events. Together with
// timestamps they reconstruct the causal DAG; the fabric stores the
// references but never walks the graph itself.
type Event struct {
	ID            string          `json:"id"`
	Timestamp     clock.Timestamp `json:"timestamp"`
	Origin        string          `json:"origin"`
	Category      Category        `json:"category"`
	Payload       Payload         `json:"payload"`
	ParentIDs     []string        `json:"parent_ids,omitempty"`
	IntegrityHash string          `json:"integrity_hash"`
}

// New constructs an event and computes its integrity hash.
//
// String fields are NFC-normalized at this boundary so that visually
// identical Unicode inputs hash identically. ParentIDs are copied to keep
// the event immutable with respect to the caller's slice.
//
// Returns an error for an invalid category or empty origin; the payload is
// opaque and never validated.
func New(id string, ts clock.Timestamp, origin string, category Category, payload Payload, parentIDs []string) (Event, error) {
	if !category.Valid() {
		return Event{}, fmt.Errorf("new event: unknown category %q", category)
	}
	if origin == "" {
		return Event{}, fmt.Errorf("new event: origin is required")
	}
	if id == "" {
		return Event{}, fmt.Errorf("new event: id is required")
	}

	var parents []string
	if len(parentIDs) > 0 {
		parents = make([]string, len(parentIDs))
		for i, p := range parentIDs {
			parents[i] = norm.NFC.String(p)
		}
	}

	ev := Event{
		ID:        norm.NFC.String(id),
		Timestamp: ts,
		Origin:    norm.NFC.String(origin),
		Category:  category,
		Payload: Payload{
			Kind: norm.NFC.String(payload.Kind),
			Data: payload.Data,
		},
		ParentIDs: parents,
	}
	ev.IntegrityHash = integrityHash(&ev)
	return ev, nil
}

// Verify recomputes the integrity hash and compares it to the stored value.
func (ev *Event) Verify() bool {
	return ev.IntegrityHash == integrityHash(ev)
}

// Marshal serializes the event for durable storage.
func (ev *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	return data, nil
}

// Unmarshal decodes an event previously serialized with Marshal.
// It does NOT verify the integrity hash; callers that need tamper detection
// call Verify on the result.
func Unmarshal(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
