package rga

import "github.com/collabtext/replica/internal/s4vector"

// noIndex marks the absence of an arena slot — used both for "no runtime
// neighbour" (list boundary) and "no creator-recorded anchor" (sentinel).
const noIndex int32 = -1

// Anchor is an optional S4Vector: Valid=false represents the sentinel
// (list boundary) the spec calls "left_anchor"/"right_anchor at the
// boundaries".
type Anchor struct {
	S4    s4vector.S4Vector
	Valid bool
}

func anchorOf(s4 s4vector.S4Vector) Anchor { return Anchor{S4: s4, Valid: true} }

func anchorEqual(a, b Anchor) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.S4 == b.S4
}

// Node is an element of the document sequence. LeftS4/RightS4 are the
// creator-recorded anchors and never change (I2's tie-break depends on
// them staying fixed); Prev/Next are runtime links into the current
// materialised order and may drift from the anchors once later concurrent
// inserts weave in between.
type Node struct {
	S4        s4vector.S4Vector
	Value     string
	Tombstone bool
	LeftS4    Anchor
	RightS4   Anchor
	Prev      int32
	Next      int32
}
