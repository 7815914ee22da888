// Package collab holds the external collaborator contracts the RGA core
// depends on but never implements directly: persistence (the operations
// and document_snapshots tables) and broadcast (the publish/subscribe
// transport). The core talks to these interfaces only — §1 keeps the
// relational layer and transport explicitly out of the core's scope.
package collab

import (
	"context"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
	"github.com/collabtext/replica/internal/snapshot"
)

// Persistence durably records operations and snapshots. AppendOperation
// must be idempotent on (document_id, s4) — the same Operation delivered
// twice is a no-op, matching I6/P2 at the storage layer.
type Persistence interface {
	AppendOperation(ctx context.Context, op rga.Operation) error
	LoadLatestSnapshot(ctx context.Context, documentID string) (*snapshot.Record, error)
	LoadOperationsSince(ctx context.Context, documentID string, cursor *s4vector.S4Vector) ([]rga.Operation, error)
	WriteSnapshot(ctx context.Context, documentID string, rec snapshot.Record) error

	// OpenSession registers (document_id, sid) as live in the
	// replica_sessions table and returns the ssn to bootstrap with —
	// §9(b)'s "ssn persisted across restarts". It fails with
	// rgaerr.ErrDuplicateSID if another session for the same
	// (document_id, sid) is already marked active (§9(d)'s optional
	// duplicate-registration check).
	OpenSession(ctx context.Context, documentID string, sid uint64) (ssn uint64, err error)

	// CloseSession marks (document_id, sid) inactive so a later
	// OpenSession for the same pair does not see a stale collision.
	CloseSession(ctx context.Context, documentID string, sid uint64) error
}

// Broadcaster is the publish/subscribe abstraction carrying operations
// between replicas. Publish is fire-and-forget with transport-level
// retry; delivery may duplicate and need not preserve cross-replica
// order (§5) — the causal buffer is what makes that safe.
type Broadcaster interface {
	Publish(ctx context.Context, documentID string, op rga.Operation) error
	// Subscribe hands handler every Operation received for documentID as
	// it arrives, until the returned unsubscribe func is called or ctx
	// is done.
	Subscribe(ctx context.Context, documentID string, handler func(rga.Operation)) (unsubscribe func(), err error)
}
