package clock

import "fmt"

// Timestamp is a hybrid-logical timestamp: wall-clock milliseconds plus a
// logical counter that disambiguates events within the same millisecond.
//
// Node identifies the issuing clock instance. It keeps timestamps from
// different fabric instances comparable (total order via Compare) but no
// cross-instance protocol is defined here; Node is the final tiebreak only.
type Timestamp struct {
	WallMS  int64  `json:"wall_ms"`
	Logical uint32 `json:"logical"`
	Node    string `json:"node"`
}

// Compare returns -1, 0, or +1 ordering t against other.
// Ordering is (WallMS, Logical, Node) lexicographic.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.WallMS < other.WallMS:
		return -1
	case t.WallMS > other.WallMS:
		return 1
	}
	switch {
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	}
	switch {
	case t.Node < other.Node:
		return -1
	case t.Node > other.Node:
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// String renders the timestamp in a sortable text form.
func (t Timestamp) String() string {
	return fmt.Sprintf("%013d.%010d@%s", t.WallMS, t.Logical, t.Node)
}

// IsZero reports whether the timestamp is the zero value.
func (t Timestamp) IsZero() bool {
	return t.WallMS == 0 && t.Logical == 0 && t.Node == ""
}
