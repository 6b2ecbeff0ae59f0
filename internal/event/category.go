package event

import "fmt"

// Category classifies an event's lifecycle phase.
//
// Categories are a small fixed vocabulary used as a subscription filter key.
// Producers choose the category; the fabric never interprets it beyond
// routing.
type Category string

const (
	// CategorySystem marks fabric-internal and operational events.
	CategorySystem Category = "system"
	// CategoryMeaning marks interpretation events produced by agents.
	CategoryMeaning Category = "meaning"
	// CategoryIntent marks declared-intent events.
	CategoryIntent Category = "intent"
	// CategoryCommitment marks binding commitments between worldlines.
	CategoryCommitment Category = "commitment"
	// CategoryCoupling marks coupling/link events between worldlines.
	CategoryCoupling Category = "coupling"
	// CategoryConsequence marks observed-outcome events.
	CategoryConsequence Category = "consequence"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategorySystem,
	CategoryMeaning,
	CategoryIntent,
	CategoryCommitment,
	CategoryCoupling,
	CategoryConsequence,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a string to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q (valid: %v)", s, Categories)
	}
	return c, nil
}
