// Package rga implements the Replicated Growable Array: the ordered
// doubly-linked list of Nodes plus the S4Vector index that is the
// document's single source of truth. Nodes live in a contiguous arena
// addressed by integer index (per the design note on sidestepping
// back-reference ownership in a GC'd language without unsafe pointers);
// links between nodes are arena-index pairs rather than pointers.
package rga

import (
	"fmt"

	"github.com/collabtext/replica/internal/rgaerr"
	"github.com/collabtext/replica/internal/s4vector"
)

// ApplyResult reports the outcome of RemoteApply.
type ApplyResult int

const (
	Applied ApplyResult = iota
	Deferred
	Duplicate
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Deferred:
		return "deferred"
	default:
		return "duplicate"
	}
}

// RGA owns the live document for exactly one (document_id, replica_id)
// pair. It is not internally synchronized — per the single-owner
// concurrency model, all access is serialised by the replica Controller
// that holds it.
type RGA struct {
	DocumentID string
	ReplicaSID uint64

	clock *s4vector.Clock
	arena []Node
	bySeq map[s4vector.S4Vector]int32
	head  int32
}

// New constructs an empty RGA. clock is owned by the caller (typically
// the replica Controller) and shared by reference: LocalInsert/LocalDelete
// mint new identifiers through it, so the Controller's clock state stays
// authoritative for the document it owns.
func New(documentID string, replicaSID uint64, clock *s4vector.Clock) *RGA {
	return &RGA{
		DocumentID: documentID,
		ReplicaSID: replicaSID,
		clock:      clock,
		bySeq:      make(map[s4vector.S4Vector]int32),
		head:       noIndex,
	}
}

// Get returns the node for the given identifier, if indexed.
func (r *RGA) Get(s4 s4vector.S4Vector) (Node, bool) {
	idx, ok := r.bySeq[s4]
	if !ok {
		return Node{}, false
	}
	return r.arena[idx], true
}

// Has reports whether s4 is present in the index, independent of
// tombstone state (I1/I6 depend on this distinction).
func (r *RGA) Has(s4 s4vector.S4Vector) bool {
	_, ok := r.bySeq[s4]
	return ok
}

// VisibleLen returns the number of non-tombstoned nodes.
func (r *RGA) VisibleLen() uint64 {
	var n uint64
	for i := r.head; i != noIndex; i = r.arena[i].Next {
		if !r.arena[i].Tombstone {
			n++
		}
	}
	return n
}

// LengthIncludingTombstones returns the total number of nodes ever
// created in this RGA, tombstoned or not (I4: tombstones are never
// removed, so this only grows).
func (r *RGA) LengthIncludingTombstones() uint64 {
	return uint64(len(r.arena))
}

// Materialise concatenates the value of every non-tombstoned node in
// live-list order — the current visible document (I3).
func (r *RGA) Materialise() string {
	var out []byte
	for i := r.head; i != noIndex; i = r.arena[i].Next {
		if !r.arena[i].Tombstone {
			out = append(out, r.arena[i].Value...)
		}
	}
	return string(out)
}

// visibleAt walks the live list and returns the arena index of the nth
// (0-based) non-tombstoned node.
func (r *RGA) visibleAt(n uint64) (int32, bool) {
	var seen uint64
	for i := r.head; i != noIndex; i = r.arena[i].Next {
		if r.arena[i].Tombstone {
			continue
		}
		if seen == n {
			return i, true
		}
		seen++
	}
	return noIndex, false
}

// LocalInsert places value at the given 0-based visible-character index,
// minting a fresh S4Vector through the owning clock, and returns the
// Operation record describing the edit for the broadcast/persistence
// collaborators to hand off.
func (r *RGA) LocalInsert(index uint64, value string) (Operation, error) {
	visibleLen := r.VisibleLen()
	if index > visibleLen {
		return Operation{}, fmt.Errorf("local insert at %d (visible length %d): %w", index, visibleLen, rgaerr.ErrIndexOutOfRange)
	}

	leftIdx := noIndex
	var leftAnchor Anchor
	if index > 0 {
		idx, _ := r.visibleAt(index - 1)
		leftIdx = idx
		leftAnchor = anchorOf(r.arena[idx].S4)
	}

	rightIdx := noIndex
	var rightAnchor Anchor
	if index < visibleLen {
		idx, _ := r.visibleAt(index)
		rightIdx = idx
		rightAnchor = anchorOf(r.arena[idx].S4)
	}

	s4 := r.clock.AdvanceLocal()
	newIdx := r.appendNode(Node{
		S4:      s4,
		Value:   value,
		LeftS4:  leftAnchor,
		RightS4: rightAnchor,
	})
	r.placeNode(newIdx, leftIdx, rightIdx)
	r.bySeq[s4] = newIdx

	return Operation{
		Kind:       KindInsert,
		S4:         s4,
		Value:      value,
		LeftS4:     leftAnchor,
		RightS4:    rightAnchor,
		DocumentID: r.DocumentID,
		OriginSID:  r.ReplicaSID,
	}, nil
}

// LocalDelete tombstones the visible node at index and returns the
// corresponding Delete Operation.
func (r *RGA) LocalDelete(index uint64) (Operation, error) {
	idx, ok := r.visibleAt(index)
	if !ok {
		return Operation{}, fmt.Errorf("local delete at %d: %w", index, rgaerr.ErrIndexOutOfRange)
	}
	r.arena[idx].Tombstone = true

	n := r.arena[idx]
	return Operation{
		Kind:       KindDelete,
		S4:         n.S4,
		LeftS4:     n.LeftS4,
		RightS4:    n.RightS4,
		DocumentID: r.DocumentID,
		OriginSID:  r.ReplicaSID,
	}, nil
}

// DeleteByS4 is the S4-addressed counterpart to LocalDelete, for a
// caller that already holds the exact target identifier rather than a
// visible index. An identifier that is not indexed reports
// IndexOutOfRange; a target that is already tombstoned reports
// NotVisible.
func (r *RGA) DeleteByS4(s4 s4vector.S4Vector) (Operation, error) {
	idx, ok := r.bySeq[s4]
	if !ok {
		return Operation{}, fmt.Errorf("delete %s: %w", s4, rgaerr.ErrIndexOutOfRange)
	}
	if r.arena[idx].Tombstone {
		return Operation{}, fmt.Errorf("delete %s: %w", s4, rgaerr.ErrNotVisible)
	}
	r.arena[idx].Tombstone = true
	n := r.arena[idx]
	return Operation{
		Kind:       KindDelete,
		S4:         n.S4,
		LeftS4:     n.LeftS4,
		RightS4:    n.RightS4,
		DocumentID: r.DocumentID,
		OriginSID:  r.ReplicaSID,
	}, nil
}

// RemoteApply applies an operation received from a peer replica. It never
// returns an error for Deferred/Duplicate — those are expected steady-state
// outcomes, not failures (spec §7).
func (r *RGA) RemoteApply(op Operation) ApplyResult {
	switch op.Kind {
	case KindInsert:
		return r.remoteInsert(op)
	default:
		return r.remoteDelete(op)
	}
}

func (r *RGA) remoteInsert(op Operation) ApplyResult {
	if r.Has(op.S4) {
		return Duplicate
	}

	leftIdx := noIndex
	if op.LeftS4.Valid {
		idx, ok := r.bySeq[op.LeftS4.S4]
		if !ok {
			return Deferred
		}
		leftIdx = idx
	}

	rightIdx := noIndex
	if op.RightS4.Valid {
		idx, ok := r.bySeq[op.RightS4.S4]
		if !ok {
			return Deferred
		}
		rightIdx = idx
	}

	newIdx := r.appendNode(Node{
		S4:      op.S4,
		Value:   op.Value,
		LeftS4:  op.LeftS4,
		RightS4: op.RightS4,
	})
	r.placeNode(newIdx, leftIdx, rightIdx)
	r.bySeq[op.S4] = newIdx
	return Applied
}

func (r *RGA) remoteDelete(op Operation) ApplyResult {
	idx, ok := r.bySeq[op.S4]
	if !ok {
		return Deferred
	}
	if r.arena[idx].Tombstone {
		return Duplicate
	}
	r.arena[idx].Tombstone = true
	return Applied
}

func (r *RGA) appendNode(n Node) int32 {
	n.Prev = noIndex
	n.Next = noIndex
	r.arena = append(r.arena, n)
	return int32(len(r.arena) - 1)
}

// placeNode splices the node at newIdx into the live list between
// leftAnchorIdx and rightAnchorIdx (either may be noIndex for a sentinel
// boundary), implementing the central insertion-placement algorithm:
//
//  1. start scanning immediately after leftAnchorIdx (or the head, if
//     leftAnchorIdx is the sentinel)
//  2. advance past any scanned node C with the same recorded left anchor
//     as the new node whose S4 sorts greater (I2: siblings sharing a left
//     anchor order by S4 DESC — newer/greater wins left)
//  3. also advance past a node weaved in by a different concurrent strand
//     (different recorded left anchor) whose S4 still sorts greater than
//     the new node's, using the same total order as the cross-strand
//     tie-break
//  4. insert immediately before the first node that fails both advance
//     predicates (or before rightAnchorIdx/end of list)
func (r *RGA) placeNode(newIdx, leftAnchorIdx, rightAnchorIdx int32) {
	n := &r.arena[newIdx]

	prevIdx := leftAnchorIdx
	var curIdx int32
	if leftAnchorIdx == noIndex {
		curIdx = r.head
	} else {
		curIdx = r.arena[leftAnchorIdx].Next
	}

	for curIdx != noIndex && curIdx != rightAnchorIdx {
		c := &r.arena[curIdx]
		greater := s4vector.Compare(c.S4, n.S4) == s4vector.Greater
		if !greater {
			break
		}
		prevIdx = curIdx
		curIdx = c.Next
	}

	n.Prev = prevIdx
	n.Next = curIdx
	if prevIdx == noIndex {
		r.head = newIdx
	} else {
		r.arena[prevIdx].Next = newIdx
	}
	if curIdx != noIndex {
		r.arena[curIdx].Prev = newIdx
	}
}
