package replica

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
)

// dispatch hands op to the broadcast and persistence collaborators on
// background goroutines so SubmitLocal never blocks on their
// acknowledgement. Both retry internally (collab.withBackoff); failures
// that exhaust retries are logged and counted, never rolled back against
// the in-memory RGA (§7: "the op is already causally live locally").
func (c *Controller) dispatch(ctx context.Context, op rga.Operation) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.broadcaster.Publish(ctx, c.documentID, op); err != nil {
			c.metrics.BroadcastFails.WithLabelValues(c.documentID).Inc()
			c.logger.Error().Err(err).Str("s4", op.S4.String()).Msg("broadcast failed after retries")
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := c.persistence.AppendOperation(ctx, op); err != nil {
			c.metrics.PersistenceFails.WithLabelValues(c.documentID).Inc()
			c.logger.Error().Err(err).Str("s4", op.S4.String()).Msg("persistence append failed after retries")
		}
	}()
}

// dispatchSnapshot captures and writes a snapshot in the background once
// the per-document operation count crosses snapshotIntervalOps.
func (c *Controller) dispatchSnapshot(ctx context.Context) {
	rec := c.Snapshot()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.persistence.WriteSnapshot(ctx, c.documentID, rec); err != nil {
			if errors.Is(err, rgaerr.ErrPersistenceFailure) {
				c.metrics.PersistenceFails.WithLabelValues(c.documentID).Inc()
			}
			c.logger.Error().Err(err).Msg("automatic snapshot write failed")
			return
		}
		c.metrics.SnapshotsTotal.WithLabelValues(c.documentID).Inc()
	}()
}

// ForceSnapshot synchronously captures and writes a snapshot, backing
// POST /sync. Unlike the automatic interval-triggered snapshot, the
// caller here wants to know whether it actually landed.
func (c *Controller) ForceSnapshot(ctx context.Context) error {
	rec := c.Snapshot()
	if err := c.persistence.WriteSnapshot(ctx, c.documentID, rec); err != nil {
		c.metrics.PersistenceFails.WithLabelValues(c.documentID).Inc()
		return err
	}
	c.metrics.SnapshotsTotal.WithLabelValues(c.documentID).Inc()
	return nil
}

// stateHash summarises the document's full state (every node, tombstoned
// or not, in live-list order) for the crdt_state_hash field of
// GET /metadata/{id} — a cheap way for two replicas to confirm they've
// converged without transferring the whole document.
func stateHash(nodes []rga.NodeRecord) string {
	h := sha256.New()
	for _, n := range nodes {
		h.Write([]byte(n.S4.String()))
		h.Write([]byte{0})
		if n.Tombstone {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
			h.Write([]byte(n.Value))
		}
		h.Write([]byte{0xff})
	}
	return hex.EncodeToString(h.Sum(nil))
}
