// Package buffer implements the causal gate: a pending queue of remote
// operations whose anchors or delete-targets have not yet been applied,
// drained as new operations make those dependencies available.
package buffer

import (
	"time"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
)

// Buffer parks operations that RGA.RemoteApply reports Deferred and
// replays them once their dependencies land. It is not internally
// synchronized — like the RGA it gates, it is owned by a single replica
// task.
type Buffer struct {
	rga *rga.RGA

	pending   map[s4vector.S4Vector]rga.Operation      // keyed by op.S4
	waitingOn map[s4vector.S4Vector][]s4vector.S4Vector // missing dep -> ops waiting on it
	arrival   []s4vector.S4Vector                       // FIFO order, tie-break only
	parkedAt  map[s4vector.S4Vector]time.Time           // when each pending op was parked

	appliedCount   uint64
	duplicateCount uint64
}

// New constructs a Buffer gating the given RGA.
func New(r *rga.RGA) *Buffer {
	return &Buffer{
		rga:       r,
		pending:   make(map[s4vector.S4Vector]rga.Operation),
		waitingOn: make(map[s4vector.S4Vector][]s4vector.S4Vector),
		parkedAt:  make(map[s4vector.S4Vector]time.Time),
	}
}

// Depth reports the number of parked operations — the metric backing the
// buffered_op_count field of GET /metadata/{id}.
func (b *Buffer) Depth() int { return len(b.pending) }

// AppliedCount and DuplicateCount are cumulative counters for telemetry.
func (b *Buffer) AppliedCount() uint64   { return b.appliedCount }
func (b *Buffer) DuplicateCount() uint64 { return b.duplicateCount }

// Offer attempts to apply op immediately; if its dependencies aren't met
// yet it parks the operation and returns Deferred. Callers should treat
// Deferred as "not an error, not surfaced" per the error taxonomy.
func (b *Buffer) Offer(op rga.Operation) rga.ApplyResult {
	result := b.rga.RemoteApply(op)
	switch result {
	case rga.Applied:
		b.appliedCount++
		b.wake(op.S4)
	case rga.Deferred:
		b.park(op)
	case rga.Duplicate:
		b.duplicateCount++
	}
	return result
}

// park indexes op under every dependency that is not yet present in the
// RGA, so a later wake() on any of them will retry it.
func (b *Buffer) park(op rga.Operation) {
	if _, already := b.pending[op.S4]; already {
		return
	}
	b.pending[op.S4] = op
	b.arrival = append(b.arrival, op.S4)
	b.parkedAt[op.S4] = time.Now()

	missing := 0
	for _, dep := range op.Dependencies() {
		if !b.rga.Has(dep) {
			b.waitingOn[dep] = append(b.waitingOn[dep], op.S4)
			missing++
		}
	}
	if missing == 0 {
		// All dependencies are already indexed (RemoteApply's internal
		// check raced against ours, or the op has none) — retry it
		// immediately via a synthetic wake so it doesn't sit parked
		// forever waiting on nothing.
		b.retry(op.S4)
	}
}

// wake retries every operation parked on s4, cascading to their own
// dependents when they in turn apply — a worklist drain rather than the
// literal "rescan everything until no progress" pass, but equivalent:
// it terminates exactly when no parked operation's dependencies are
// newly satisfiable.
func (b *Buffer) wake(s4 s4vector.S4Vector) {
	worklist := append([]s4vector.S4Vector{}, b.waitingOn[s4]...)
	delete(b.waitingOn, s4)

	for len(worklist) > 0 {
		next := worklist[0]
		worklist = worklist[1:]
		if satisfied := b.retry(next); satisfied != nil {
			worklist = append(worklist, satisfied...)
		}
	}
}

// retry re-attempts a single parked operation. If it now applies (or
// turns out to be a duplicate), it is removed from pending and its own
// waiters are returned for the caller to fold into its worklist.
func (b *Buffer) retry(s4 s4vector.S4Vector) []s4vector.S4Vector {
	op, ok := b.pending[s4]
	if !ok {
		return nil
	}
	result := b.rga.RemoteApply(op)
	if result == rga.Deferred {
		return nil
	}
	delete(b.pending, s4)
	delete(b.parkedAt, s4)
	if result == rga.Applied {
		b.appliedCount++
		waiters := b.waitingOn[s4]
		delete(b.waitingOn, s4)
		return waiters
	}
	b.duplicateCount++
	return nil
}

// Drain forces a full rescan of every parked operation. Offer already
// wakes dependents incrementally; Drain exists for bootstrap (replaying
// an unsorted operation list) and for administrative recovery after an
// AnchorMissingAfterDrain grace period elapses.
func (b *Buffer) Drain() {
	for {
		progressed := false
		for _, s4 := range append([]s4vector.S4Vector{}, b.arrival...) {
			op, ok := b.pending[s4]
			if !ok {
				continue
			}
			result := b.rga.RemoteApply(op)
			if result == rga.Deferred {
				continue
			}
			delete(b.pending, s4)
			delete(b.parkedAt, s4)
			if result == rga.Applied {
				b.appliedCount++
			} else {
				b.duplicateCount++
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	b.compactArrival()
}

func (b *Buffer) compactArrival() {
	kept := b.arrival[:0]
	for _, s4 := range b.arrival {
		if _, ok := b.pending[s4]; ok {
			kept = append(kept, s4)
		}
	}
	b.arrival = kept
}

// Pending returns a snapshot of currently-parked operations in arrival
// order, for diagnostics and AnchorMissingAfterDrain grace-period checks.
func (b *Buffer) Pending() []rga.Operation {
	out := make([]rga.Operation, 0, len(b.pending))
	for _, s4 := range b.arrival {
		if op, ok := b.pending[s4]; ok {
			out = append(out, op)
		}
	}
	return out
}

// StalePending returns, in arrival order, every parked operation that has
// been waiting longer than grace without its dependency arriving —
// AnchorMissingAfterDrain's "logged as suspected loss" condition (§7). The
// operations stay parked; nothing here removes them.
func (b *Buffer) StalePending(grace time.Duration) []rga.Operation {
	now := time.Now()
	var out []rga.Operation
	for _, s4 := range b.arrival {
		op, ok := b.pending[s4]
		if !ok {
			continue
		}
		if now.Sub(b.parkedAt[s4]) >= grace {
			out = append(out, op)
		}
	}
	return out
}
