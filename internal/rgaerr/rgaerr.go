// Package rgaerr defines the sentinel error taxonomy shared by the RGA
// engine and its collaborators. Callers use errors.Is against these
// sentinels; context is layered on with fmt.Errorf's %w.
package rgaerr

import "errors"

var (
	// ErrIndexOutOfRange is returned when a local edit index exceeds the
	// document's current visible length. No state is mutated.
	ErrIndexOutOfRange = errors.New("rga: index out of range")

	// ErrNotVisible is returned when a local delete targets a node that
	// is already tombstoned. No state is mutated. Remote deletes never
	// return this — they're idempotent no-ops instead (I6).
	ErrNotVisible = errors.New("rga: node not visible")

	// ErrDuplicateOperation marks a remote operation whose S4Vector is
	// already indexed. Swallowed by the caller, counted for telemetry.
	ErrDuplicateOperation = errors.New("rga: duplicate operation")

	// ErrDeferredOperation marks a remote operation parked in the causal
	// buffer pending an anchor or delete target. Not a failure.
	ErrDeferredOperation = errors.New("rga: operation deferred")

	// ErrAnchorMissingAfterDrain flags a parked operation whose anchor
	// has not arrived after a grace period. Logged as suspected loss;
	// the operation remains parked.
	ErrAnchorMissingAfterDrain = errors.New("rga: anchor missing after drain grace period")

	// ErrPersistenceFailure wraps a persistence collaborator failure
	// after retries are exhausted.
	ErrPersistenceFailure = errors.New("rga: persistence failure")

	// ErrBroadcastFailure wraps a broadcast collaborator failure after
	// retries are exhausted.
	ErrBroadcastFailure = errors.New("rga: broadcast failure")

	// ErrSnapshotCorruption halts bootstrap; the replica does not come
	// online.
	ErrSnapshotCorruption = errors.New("rga: snapshot corrupt")

	// ErrDuplicateSID is raised at bootstrap when another live replica
	// is already registered with the same (document_id, sid) pair.
	ErrDuplicateSID = errors.New("rga: duplicate site id for document")
)
