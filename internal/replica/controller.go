// Package replica implements the Replica Controller: the owner of a
// single (replica_id, document_id) instance's clock, RGA, and causal
// buffer, and the orchestrator of local-edit ingestion, remote-apply,
// broadcasting, persistence hand-off, and clock advancement.
package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtext/replica/internal/buffer"
	"github.com/collabtext/replica/internal/collab"
	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
	"github.com/collabtext/replica/internal/s4vector"
	"github.com/collabtext/replica/internal/snapshot"
	"github.com/collabtext/replica/internal/telemetry"
)

// EditRequest is a local edit as submitted by an HTTP handler or any
// other producer task.
type EditRequest struct {
	Kind  rga.Kind
	Index uint64
	Value string
}

// Controller serialises every mutation to its RGA, Buffer, and clock
// behind a single mutex — the "guarded by a single mutex" alternative
// the concurrency model (§5) permits in place of a dedicated owning
// goroutine. Persistence and broadcast hand-off happen outside the lock,
// fire-and-forget, tracked by wg for graceful shutdown draining.
type Controller struct {
	mu sync.Mutex

	documentID string
	rga        *rga.RGA
	buf        *buffer.Buffer
	clock      *s4vector.Clock

	persistence collab.Persistence
	broadcaster collab.Broadcaster
	logger      zerolog.Logger
	metrics     *telemetry.Metrics

	snapshotIntervalOps int
	opsSinceSnapshot    int

	localApplyHook func(rga.Operation)

	wg sync.WaitGroup
}

// SetLocalApplyHook registers a callback fired, outside the controller's
// lock, for every operation applied to this document — local submissions
// and the operation that triggered a remote ReceiveRemote call. Used by
// the realtime websocket fan-out (SPEC_FULL.md §4.9) to push updates to
// connected editor clients without polling GET /documents/{id}. Cascaded
// applies that a buffer drain triggers indirectly are not individually
// reported; clients observe those on the next hooked operation or by
// re-fetching.
func (c *Controller) SetLocalApplyHook(hook func(rga.Operation)) {
	c.localApplyHook = hook
}

// New constructs a Controller for documentID, owned by replica sid in
// session ssn.
func New(documentID string, sid, ssn uint64, persistence collab.Persistence, broadcaster collab.Broadcaster, logger zerolog.Logger, metrics *telemetry.Metrics, snapshotIntervalOps int) *Controller {
	clock := &s4vector.Clock{SSN: ssn, SID: sid}
	r := rga.New(documentID, sid, clock)
	return &Controller{
		documentID:          documentID,
		rga:                 r,
		buf:                 buffer.New(r),
		clock:               clock,
		persistence:         persistence,
		broadcaster:         broadcaster,
		logger:              logger.With().Str("document_id", documentID).Logger(),
		metrics:             metrics,
		snapshotIntervalOps: snapshotIntervalOps,
	}
}

// DocumentID returns the document this controller owns.
func (c *Controller) DocumentID() string { return c.documentID }

// SubmitLocal mutates the RGA under lock, then hands the resulting
// Operation to the broadcast and persistence collaborators without
// blocking the caller on their acknowledgement (§4.5).
func (c *Controller) SubmitLocal(ctx context.Context, edit EditRequest) (rga.Operation, error) {
	c.mu.Lock()
	var op rga.Operation
	var err error
	switch edit.Kind {
	case rga.KindInsert:
		op, err = c.rga.LocalInsert(edit.Index, edit.Value)
	case rga.KindDelete:
		op, err = c.rga.LocalDelete(edit.Index)
	default:
		err = fmt.Errorf("submit local: unknown operation kind %v", edit.Kind)
	}
	if err == nil {
		c.opsSinceSnapshot++
	}
	due := err == nil && c.snapshotIntervalOps > 0 && c.opsSinceSnapshot >= c.snapshotIntervalOps
	if due {
		c.opsSinceSnapshot = 0
	}
	c.mu.Unlock()

	if err != nil {
		return rga.Operation{}, err
	}

	c.dispatch(ctx, op)
	if due {
		c.dispatchSnapshot(ctx)
	}
	if c.localApplyHook != nil {
		c.localApplyHook(op)
	}
	return op, nil
}

// ReceiveRemote admits a remote operation. The local clock's sum is
// merged regardless of whether the op ends up Applied or Deferred,
// preserving causal monotonicity (§4.5's "Important" note).
func (c *Controller) ReceiveRemote(op rga.Operation) rga.ApplyResult {
	c.mu.Lock()

	c.clock.MergeRemote(op.S4.Sum)
	result := c.buf.Offer(op)

	switch result {
	case rga.Applied:
		c.metrics.AppliedTotal.WithLabelValues(c.documentID).Inc()
		c.opsSinceSnapshot++
	case rga.Deferred:
		c.metrics.DeferredTotal.WithLabelValues(c.documentID).Inc()
		c.logger.Debug().Str("s4", op.S4.String()).Msg("remote operation deferred")
	case rga.Duplicate:
		c.metrics.DuplicateTotal.WithLabelValues(c.documentID).Inc()
	}
	c.metrics.BufferDepth.WithLabelValues(c.documentID).Set(float64(c.buf.Depth()))

	due := result == rga.Applied && c.snapshotIntervalOps > 0 && c.opsSinceSnapshot >= c.snapshotIntervalOps
	if due {
		c.opsSinceSnapshot = 0
	}
	c.mu.Unlock()

	if due {
		c.dispatchSnapshot(context.Background())
	}
	if result == rga.Applied && c.localApplyHook != nil {
		c.localApplyHook(op)
	}
	return result
}

// Materialise returns the current visible document.
func (c *Controller) Materialise() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rga.Materialise()
}

// Metadata reports the (last_s4, buffered_op_count, crdt_state_hash)
// triple for GET /metadata/{id}.
type Metadata struct {
	LastS4          s4vector.S4Vector
	HasLastS4       bool
	BufferedOpCount int
	StateHash       string
}

func (c *Controller) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.rga.Nodes()
	md := Metadata{BufferedOpCount: c.buf.Depth()}
	if n := len(nodes); n > 0 {
		md.LastS4 = nodes[n-1].S4
		md.HasLastS4 = true
	}
	md.StateHash = stateHash(nodes)
	return md
}

// Snapshot captures the live RGA for persistence and bootstrap.
func (c *Controller) Snapshot() snapshot.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot.Capture(c.rga, c.clock.SSN)
}

// Bootstrap rebuilds the RGA from rec (if non-nil) then replays ops
// through the causal buffer, which naturally tolerates non-sorted input
// (§4.5).
func (c *Controller) Bootstrap(rec *snapshot.Record, ops []rga.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec != nil {
		if err := validateSnapshot(*rec); err != nil {
			return fmt.Errorf("bootstrap %s: %w: %v", c.documentID, rgaerr.ErrSnapshotCorruption, err)
		}
		snapshot.Rehydrate(c.rga, *rec)
		if rec.SSN > c.clock.SSN {
			c.clock.SSN = rec.SSN
		}
	}

	for _, op := range ops {
		c.clock.MergeRemote(op.S4.Sum)
		c.buf.Offer(op)
	}
	c.buf.Drain()
	return nil
}

// CheckAnchorGracePeriod scans the causal buffer for operations parked
// longer than grace and logs each as suspected loss — §7's
// AnchorMissingAfterDrain. Parked operations are never dropped; a late
// anchor arrival still applies them normally.
func (c *Controller) CheckAnchorGracePeriod(grace time.Duration) {
	c.mu.Lock()
	stale := c.buf.StalePending(grace)
	c.mu.Unlock()

	for _, op := range stale {
		c.metrics.AnchorMissingTotal.WithLabelValues(c.documentID).Inc()
		c.logger.Warn().
			Err(rgaerr.ErrAnchorMissingAfterDrain).
			Str("s4", op.S4.String()).
			Msg("operation still parked past anchor grace period")
	}
}

// Wait blocks until every dispatched persistence/broadcast hand-off has
// finished — called during graceful shutdown to drain local emissions
// before the process exits (§5).
func (c *Controller) Wait() {
	c.wg.Wait()
}

func validateSnapshot(rec snapshot.Record) error {
	seen := make(map[s4vector.S4Vector]bool, len(rec.Entries))
	for _, e := range rec.Entries {
		if seen[e.S4] {
			return fmt.Errorf("duplicate s4 %s in snapshot entries", e.S4)
		}
		seen[e.S4] = true
	}
	return nil
}
