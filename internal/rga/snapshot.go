package rga

import "github.com/collabtext/replica/internal/s4vector"

// NodeRecord is the serialisable projection of a Node used by the
// Snapshot Serialiser. Entries are always recorded and replayed in
// live-list traversal order, never sorted by S4Vector (§4.6).
type NodeRecord struct {
	S4        s4vector.S4Vector
	Value     string
	Tombstone bool
	LeftS4    Anchor
	RightS4   Anchor
}

// Nodes returns every node, tombstoned or not, in live-list traversal
// order — the stable ordering the Snapshot Serialiser persists.
func (r *RGA) Nodes() []NodeRecord {
	out := make([]NodeRecord, 0, len(r.arena))
	for i := r.head; i != noIndex; i = r.arena[i].Next {
		n := r.arena[i]
		out = append(out, NodeRecord{
			S4:        n.S4,
			Value:     n.Value,
			Tombstone: n.Tombstone,
			LeftS4:    n.LeftS4,
			RightS4:   n.RightS4,
		})
	}
	return out
}

// LoadFromRecords rebuilds the RGA directly from records already in
// live-list order (e.g. a snapshot), without re-running the insertion
// placement algorithm. This is the O(N) rehydration path: record order
// IS list order, so each record just gets appended and linked to the
// previous one.
func (r *RGA) LoadFromRecords(records []NodeRecord) {
	r.arena = r.arena[:0]
	r.bySeq = make(map[s4vector.S4Vector]int32, len(records))
	r.head = noIndex

	prev := noIndex
	for _, rec := range records {
		idx := r.appendNode(Node{
			S4:        rec.S4,
			Value:     rec.Value,
			Tombstone: rec.Tombstone,
			LeftS4:    rec.LeftS4,
			RightS4:   rec.RightS4,
		})
		r.arena[idx].Prev = prev
		if prev == noIndex {
			r.head = idx
		} else {
			r.arena[prev].Next = idx
		}
		r.bySeq[rec.S4] = idx
		prev = idx
	}
}
