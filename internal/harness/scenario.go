package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/weft/internal/event"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a deterministic in-memory fabric through a sequence of
// emissions and assert on the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// NodeID is the fabric's node identity. Defaults to "loom-test".
	NodeID string `yaml:"node_id,omitempty"`

	// Steps is the ordered list of emissions to perform.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace after all steps complete.
	// Supported types: event_count, event_order, causal_parents,
	// latest_seq, verify_clean
	Assertions []Assertion `yaml:"assertions"`
}

// Step performs exactly one of a single emit or a batch emit.
type Step struct {
	Emit  *EmitStep  `yaml:"emit,omitempty"`
	Batch *BatchStep `yaml:"batch,omitempty"`
}

// EmitStep describes one event to emit.
type EmitStep struct {
	// Origin identifies the emitting collaborator.
	// Required on single emits; ignored inside a batch (the batch's
	// origin applies).
	Origin string `yaml:"origin,omitempty"`

	// Category is the event category name.
	Category string `yaml:"category"`

	// Kind tags the payload encoding.
	Kind string `yaml:"kind"`

	// Data is the payload body, serialized to JSON before emission.
	Data map[string]interface{} `yaml:"data,omitempty"`

	// Parents lists causally preceding event IDs. With the harness's
	// sequential generator these are predictable ("ev-0001", ...).
	Parents []string `yaml:"parents,omitempty"`
}

// BatchStep describes one atomic batch emission.
type BatchStep struct {
	// Origin identifies the emitting collaborator for every event.
	Origin string `yaml:"origin"`

	// Events lists the drafts, emitted in order within one durability
	// unit.
	Events []EmitStep `yaml:"events"`
}

// Assertion validates the trace or journal after the steps run.
type Assertion struct {
	// Type selects the assertion:
	// - "event_count": events matching the category/origin/kind filters
	//   number exactly Count
	// - "event_order": the Kinds appear in the trace in this relative order
	// - "causal_parents": the event with Kind carries exactly Parents
	// - "latest_seq": the journal's latest sequence equals Seq
	// - "verify_clean": full verification reports zero mismatches
	Type string `yaml:"type"`

	// Category filters events (used by event_count).
	Category string `yaml:"category,omitempty"`

	// Origin filters events (used by event_count).
	Origin string `yaml:"origin,omitempty"`

	// Kind filters events (event_count) or selects one (causal_parents).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of matches (event_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected relative order (event_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Parents is the expected parent list (causal_parents).
	Parents []string `yaml:"parents,omitempty"`

	// Seq is the expected latest sequence (latest_seq).
	Seq uint64 `yaml:"seq,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertCausalParents = "causal_parents"
	AssertLatestSeq     = "latest_seq"
	AssertVerifyClean   = "verify_clean"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo like "assertion:" fails loudly
// instead of silently validating nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case step.Emit != nil && step.Batch != nil:
			return fmt.Errorf("steps[%d]: emit and batch are mutually exclusive", i)
		case step.Emit != nil:
			if step.Emit.Origin == "" {
				return fmt.Errorf("steps[%d].emit: origin is required", i)
			}
			if err := validateEmit(step.Emit); err != nil {
				return fmt.Errorf("steps[%d].emit: %w", i, err)
			}
		case step.Batch != nil:
			if step.Batch.Origin == "" {
				return fmt.Errorf("steps[%d].batch: origin is required", i)
			}
			if len(step.Batch.Events) == 0 {
				return fmt.Errorf("steps[%d].batch: events list must be non-empty", i)
			}
			for j := range step.Batch.Events {
				if err := validateEmit(&step.Batch.Events[j]); err != nil {
					return fmt.Errorf("steps[%d].batch.events[%d]: %w", i, j, err)
				}
			}
		default:
			return fmt.Errorf("steps[%d]: either emit or batch is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateEmit checks the fields shared by single and batch emissions.
func validateEmit(e *EmitStep) error {
	if e.Category == "" {
		return fmt.Errorf("category is required")
	}
	if _, err := event.ParseCategory(e.Category); err != nil {
		return err
	}
	if e.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		if a.Category == "" && a.Origin == "" && a.Kind == "" {
			return fmt.Errorf("assertions[%d]: event_count needs at least one of category, origin, kind", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertCausalParents:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for causal_parents", index)
		}
	case AssertLatestSeq:
		if a.Seq == 0 {
			return fmt.Errorf("assertions[%d]: seq is required for latest_seq", index)
		}
	case AssertVerifyClean:
		// No extra fields.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
