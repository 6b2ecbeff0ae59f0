// Package harness runs YAML-defined conformance scenarios against a
// deterministic in-memory fabric.
//
// Determinism comes from swapping the fabric's nondeterministic inputs:
// a scripted clock (fixed start, fixed step) and a sequential ID
// generator. The same scenario therefore always produces a byte-identical
// trace, which golden files pin down.
package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomworks/weft/internal/event"
	"github.com/loomworks/weft/internal/fabric"
	"github.com/loomworks/weft/internal/journal"
	"github.com/loomworks/weft/internal/router"
	"github.com/loomworks/weft/internal/testutil"
)

// clockStartMS is the scripted clock's base wall time. The first emitted
// event carries clockStartMS+1.
const clockStartMS = 1000

// TraceEvent is one entry in a scenario's deterministic trace.
// Integrity hashes are deliberately excluded: they are deterministic but
// not hand-checkable, and verify_clean covers them.
type TraceEvent struct {
	Type     string   `json:"type"` // "emit" or "batch"
	Seq      uint64   `json:"seq"`
	ID       string   `json:"id"`
	WallMS   int64    `json:"wall_ms"`
	Origin   string   `json:"origin"`
	Category string   `json:"category"`
	Kind     string   `json:"kind"`
	Parents  []string `json:"parents,omitempty"`
}

// Result captures a completed scenario run.
type Result struct {
	// Scenario is the executed scenario.
	Scenario *Scenario
	// Events are the emitted events in emission order.
	Events []event.Event
	// Trace is the deterministic trace for golden comparison.
	Trace []TraceEvent

	fab *fabric.Fabric
}

// Run executes a scenario against a fresh deterministic fabric.
// Every step must succeed; a failing emission fails the run.
func Run(scenario *Scenario) (*Result, error) {
	nodeID := scenario.NodeID
	if nodeID == "" {
		nodeID = "loom-test"
	}

	fab := fabric.New(
		testutil.NewFixedClock(nodeID, clockStartMS, 1),
		journal.NewMemory(),
		router.New(router.DefaultBuffer),
		fabric.WithIDGenerator(testutil.NewSequentialGenerator("ev")),
	)

	result := &Result{Scenario: scenario, fab: fab}
	ctx := context.Background()

	for i, step := range scenario.Steps {
		switch {
		case step.Emit != nil:
			draft, err := buildDraft(step.Emit)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
			ev, err := fab.Emit(ctx, step.Emit.Origin, draft)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: emit: %w", i, err)
			}
			result.record("emit", ev)

		case step.Batch != nil:
			drafts := make([]fabric.Draft, len(step.Batch.Events))
			for j := range step.Batch.Events {
				draft, err := buildDraft(&step.Batch.Events[j])
				if err != nil {
					return nil, fmt.Errorf("steps[%d].events[%d]: %w", i, j, err)
				}
				drafts[j] = draft
			}
			events, err := fab.EmitBatch(ctx, step.Batch.Origin, drafts)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: emit batch: %w", i, err)
			}
			for _, ev := range events {
				result.record("batch", ev)
			}
		}
	}

	return result, nil
}

// buildDraft converts an EmitStep to a fabric draft, serializing the YAML
// data map to JSON. Go's map marshaling sorts keys, so the payload bytes
// are deterministic.
func buildDraft(e *EmitStep) (fabric.Draft, error) {
	category, err := event.ParseCategory(e.Category)
	if err != nil {
		return fabric.Draft{}, err
	}

	var data json.RawMessage
	if e.Data != nil {
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fabric.Draft{}, fmt.Errorf("marshal data: %w", err)
		}
	}

	return fabric.Draft{
		Category:  category,
		Payload:   event.Payload{Kind: e.Kind, Data: data},
		ParentIDs: e.Parents,
	}, nil
}

// record appends one event to both the event list and the trace.
func (r *Result) record(stepType string, ev event.Event) {
	r.Events = append(r.Events, ev)
	r.Trace = append(r.Trace, TraceEvent{
		Type:     stepType,
		Seq:      uint64(len(r.Trace)) + 1,
		ID:       ev.ID,
		WallMS:   ev.Timestamp.WallMS,
		Origin:   ev.Origin,
		Category: string(ev.Category),
		Kind:     ev.Payload.Kind,
		Parents:  ev.ParentIDs,
	})
}
