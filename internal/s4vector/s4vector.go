// Package s4vector implements the S4Vector identifier: a totally ordered
// (ssn, sum, sid, seq) tuple that gives every RGA node and operation a
// deterministic place in the replica's global order.
package s4vector

import "fmt"

// S4Vector is a value object: equality, hashing (as a map key), and
// ordering are total over its four fields.
type S4Vector struct {
	SSN uint64 `json:"ssn"`
	Sum uint64 `json:"sum"`
	SID uint64 `json:"sid"`
	Seq uint64 `json:"seq"`
}

// Ordering is the result of comparing two S4Vectors.
type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
)

// Compare returns the lexicographic ordering of a and b over
// (ssn, sum, sid, seq), ascending.
func Compare(a, b S4Vector) Ordering {
	switch {
	case a.SSN != b.SSN:
		return ordering(a.SSN, b.SSN)
	case a.Sum != b.Sum:
		return ordering(a.Sum, b.Sum)
	case a.SID != b.SID:
		return ordering(a.SID, b.SID)
	case a.Seq != b.Seq:
		return ordering(a.Seq, b.Seq)
	default:
		return Equal
	}
}

func ordering(x, y uint64) Ordering {
	if x < y {
		return Less
	}
	return Greater
}

// Less reports whether a sorts strictly before b.
func (a S4Vector) Less(b S4Vector) bool {
	return Compare(a, b) == Less
}

// Greater reports whether a sorts strictly after b.
func (a S4Vector) Greater(b S4Vector) bool {
	return Compare(a, b) == Greater
}

func (a S4Vector) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", a.SSN, a.Sum, a.SID, a.Seq)
}

// MergeOnReceive implements the Lamport-style merge rule applied whenever a
// replica receives a remote operation: the local scalar clock advances past
// whatever the remote side had observed.
func MergeOnReceive(localSum, remoteSum uint64) uint64 {
	if remoteSum > localSum {
		return remoteSum + 1
	}
	return localSum + 1
}

// Clock is the per-replica mutable state (ssn, sid fixed for the session;
// seq and sum advance on every local emission) used to mint new S4Vectors.
type Clock struct {
	SSN uint64
	SID uint64
	Seq uint64
	Sum uint64
}

// AdvanceLocal increments both seq and sum and returns the resulting
// S4Vector snapshot. Called exactly once per locally-generated operation.
func (c *Clock) AdvanceLocal() S4Vector {
	c.Seq++
	c.Sum++
	return S4Vector{SSN: c.SSN, Sum: c.Sum, SID: c.SID, Seq: c.Seq}
}

// MergeRemote folds a remote S4Vector's sum into the local clock without
// minting a new identifier, satisfying P5/I5: the local sum never falls
// behind what's been observed on the wire.
func (c *Clock) MergeRemote(remoteSum uint64) {
	c.Sum = MergeOnReceive(c.Sum, remoteSum)
}
