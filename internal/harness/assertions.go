package harness

import (
	"context"
	"fmt"
)

// CheckAll evaluates every assertion in the scenario against the result,
// collecting all failures instead of stopping at the first.
func (r *Result) CheckAll() []error {
	var errs []error
	for i, a := range r.Scenario.Assertions {
		if err := r.Check(&a); err != nil {
			errs = append(errs, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
	return errs
}

// Check evaluates one assertion against the result.
func (r *Result) Check(a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		return r.checkEventCount(a)
	case AssertEventOrder:
		return r.checkEventOrder(a)
	case AssertCausalParents:
		return r.checkCausalParents(a)
	case AssertLatestSeq:
		return r.checkLatestSeq(a)
	case AssertVerifyClean:
		return r.checkVerifyClean()
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (r *Result) checkEventCount(a *Assertion) error {
	count := 0
	for _, ev := range r.Events {
		if a.Category != "" && string(ev.Category) != a.Category {
			continue
		}
		if a.Origin != "" && ev.Origin != a.Origin {
			continue
		}
		if a.Kind != "" && ev.Payload.Kind != a.Kind {
			continue
		}
		count++
	}
	if count != a.Count {
		return fmt.Errorf("expected %d matching events, found %d", a.Count, count)
	}
	return nil
}

// checkEventOrder verifies the kinds appear in the trace in the given
// relative order. Other events may interleave.
func (r *Result) checkEventOrder(a *Assertion) error {
	next := 0
	for _, ev := range r.Events {
		if next < len(a.Kinds) && ev.Payload.Kind == a.Kinds[next] {
			next++
		}
	}
	if next != len(a.Kinds) {
		return fmt.Errorf("kind %q missing or out of order (matched %d of %d)",
			a.Kinds[next], next, len(a.Kinds))
	}
	return nil
}

func (r *Result) checkCausalParents(a *Assertion) error {
	for _, ev := range r.Events {
		if ev.Payload.Kind != a.Kind {
			continue
		}
		if len(ev.ParentIDs) != len(a.Parents) {
			return fmt.Errorf("event %s: expected %d parents, found %d",
				ev.ID, len(a.Parents), len(ev.ParentIDs))
		}
		for i, want := range a.Parents {
			if ev.ParentIDs[i] != want {
				return fmt.Errorf("event %s: parent[%d] = %q, want %q",
					ev.ID, i, ev.ParentIDs[i], want)
			}
		}
		return nil
	}
	return fmt.Errorf("no event with kind %q", a.Kind)
}

func (r *Result) checkLatestSeq(a *Assertion) error {
	m := r.fab.Metrics()
	if m.LatestSeq != a.Seq {
		return fmt.Errorf("latest seq = %d, want %d", m.LatestSeq, a.Seq)
	}
	return nil
}

func (r *Result) checkVerifyClean() error {
	report, err := r.fab.Verify(context.Background())
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if report.Mismatched != 0 {
		return fmt.Errorf("verify found %d mismatched entries: %v",
			report.Mismatched, report.MismatchedSeqs)
	}
	return nil
}
