package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the serialized form compared against golden files.
// Field order is fixed by the struct, so encoding is deterministic.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	NodeID       string       `json:"node_id"`
	Trace        []TraceEvent `json:"trace"`
}

// Snapshot builds the golden-comparable form of the result.
func (r *Result) Snapshot() TraceSnapshot {
	nodeID := r.Scenario.NodeID
	if nodeID == "" {
		nodeID = "loom-test"
	}
	return TraceSnapshot{
		ScenarioName: r.Scenario.Name,
		NodeID:       nodeID,
		Trace:        r.Trace,
	}
}

// AssertGolden compares the result's trace against the golden file
// testdata/golden/<scenario name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, result *Result) error {
	t.Helper()

	data, err := json.MarshalIndent(result.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Scenario.Name, data)
	return nil
}

// RunWithGolden executes a scenario, checks its assertions, and compares
// the trace against its golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, err := range result.CheckAll() {
		t.Error(err)
	}
	return AssertGolden(t, result)
}
