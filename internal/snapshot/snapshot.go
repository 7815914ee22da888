// Package snapshot implements the Snapshot Serialiser: converting a live
// RGA into a stable, ordered form for persistence and bootstrap, and
// rehydrating it again on start.
package snapshot

import (
	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
)

// Record is the serialisation of every Node in an RGA, including
// tombstones, recorded in live-list traversal order — not sorted by
// S4Vector — so rehydration is O(N) and never re-runs the insertion
// placement algorithm.
type Record struct {
	DocumentID string           `json:"document_id"`
	SSN        uint64           `json:"ssn"`
	LastS4     s4vector.S4Vector `json:"last_s4"`
	HasLastS4  bool              `json:"has_last_s4"`
	Entries    []rga.NodeRecord  `json:"entries"`
}

// Capture produces a self-contained Record from the live RGA. ssn is the
// clock's current session number, carried so bootstrap can detect a
// resumed-vs-fresh session without consulting the operations log.
func Capture(r *rga.RGA, ssn uint64) Record {
	entries := r.Nodes()
	rec := Record{
		DocumentID: r.DocumentID,
		SSN:        ssn,
		Entries:    entries,
	}
	if n := len(entries); n > 0 {
		rec.LastS4 = lastByOrder(entries)
		rec.HasLastS4 = true
	}
	return rec
}

// lastByOrder returns the greatest S4Vector among entries — the cursor a
// subsequent load_operations_since call should start strictly after.
func lastByOrder(entries []rga.NodeRecord) s4vector.S4Vector {
	max := entries[0].S4
	for _, e := range entries[1:] {
		if s4vector.Compare(e.S4, max) == s4vector.Greater {
			max = e.S4
		}
	}
	return max
}

// Rehydrate rebuilds r from rec. A snapshot is self-contained: an empty
// operation log plus a snapshot fully reconstitutes the replica (P6).
func Rehydrate(r *rga.RGA, rec Record) {
	r.LoadFromRecords(rec.Entries)
}
