// Package httpapi is the out-of-core HTTP surface (§6): request routing
// via gorilla/mux, lazy per-document Controller lifecycle, and the
// supplemented websocket realtime fan-out. None of the convergence logic
// lives here — every handler is a thin adapter onto internal/replica.
package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtext/replica/internal/collab"
	"github.com/collabtext/replica/internal/replica"
	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
	"github.com/collabtext/replica/internal/s4vector"
	"github.com/collabtext/replica/internal/telemetry"
)

// Registry owns the set of live Controllers in this process, one per
// document currently being edited, mirroring the source's
// SharedRGAs: Arc<Mutex<HashMap<String, RGA>>> but with each entry a
// full Controller rather than a bare RGA.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*replica.Controller
	unsubscribe map[string]func()

	persistence collab.Persistence
	broadcaster collab.Broadcaster
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	hub         *Hub

	sid                 uint64
	snapshotIntervalOps int
}

// NewRegistry constructs an empty Registry. sid identifies this process
// to every Controller it creates; ssn is no longer a static seed — it's
// assigned per document by OpenSession against replica_sessions at
// bootstrap (§9(b)).
func NewRegistry(persistence collab.Persistence, broadcaster collab.Broadcaster, logger zerolog.Logger, metrics *telemetry.Metrics, hub *Hub, sid uint64, snapshotIntervalOps int) *Registry {
	return &Registry{
		controllers:         make(map[string]*replica.Controller),
		unsubscribe:         make(map[string]func()),
		persistence:         persistence,
		broadcaster:         broadcaster,
		logger:              logger,
		metrics:             metrics,
		hub:                 hub,
		sid:                 sid,
		snapshotIntervalOps: snapshotIntervalOps,
	}
}

// Get returns the Controller for documentID, bootstrapping it from
// persistence and subscribing it to the broadcast channel on first
// access.
func (reg *Registry) Get(ctx context.Context, documentID string) (*replica.Controller, error) {
	reg.mu.Lock()
	if c, ok := reg.controllers[documentID]; ok {
		reg.mu.Unlock()
		return c, nil
	}
	reg.mu.Unlock()

	c, unsub, err := reg.bootstrapController(ctx, documentID)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	if existing, ok := reg.controllers[documentID]; ok {
		reg.mu.Unlock()
		unsub()
		// Lost the race to bootstrap this document: the winning
		// goroutine's session is already registered, so this one's
		// must be closed or the next real reload/restart would see
		// it as still active and fail ErrDuplicateSID against itself.
		if err := reg.persistence.CloseSession(ctx, documentID, reg.sid); err != nil {
			reg.logger.Warn().Err(err).Str("document_id", documentID).Msg("close session failed after losing bootstrap race")
		}
		return existing, nil
	}
	reg.controllers[documentID] = c
	reg.unsubscribe[documentID] = unsub
	reg.mu.Unlock()

	return c, nil
}

// WaitAll blocks until every controller's in-flight persistence and
// broadcast dispatches have finished, for graceful shutdown (§5).
func (reg *Registry) WaitAll() {
	reg.mu.Lock()
	controllers := make([]*replica.Controller, 0, len(reg.controllers))
	for _, c := range reg.controllers {
		controllers = append(controllers, c)
	}
	reg.mu.Unlock()

	for _, c := range controllers {
		c.Wait()
	}
}

// Reload forces a fresh bootstrap of documentID from persistence,
// discarding whatever in-memory state this process held — backing
// POST /bootstrap/{id}.
func (reg *Registry) Reload(ctx context.Context, documentID string) (*replica.Controller, error) {
	reg.mu.Lock()
	if unsub, ok := reg.unsubscribe[documentID]; ok {
		unsub()
	}
	delete(reg.controllers, documentID)
	delete(reg.unsubscribe, documentID)
	reg.mu.Unlock()

	if err := reg.persistence.CloseSession(ctx, documentID, reg.sid); err != nil {
		return nil, fmt.Errorf("reload %s: %w", documentID, err)
	}

	return reg.Get(ctx, documentID)
}

// CloseAll closes every live document's session row so a clean restart's
// OpenSession calls aren't rejected as self-collisions. Call once, after
// WaitAll, during graceful shutdown.
func (reg *Registry) CloseAll(ctx context.Context) {
	reg.mu.Lock()
	documentIDs := make([]string, 0, len(reg.controllers))
	for id := range reg.controllers {
		documentIDs = append(documentIDs, id)
	}
	reg.mu.Unlock()

	for _, id := range documentIDs {
		if err := reg.persistence.CloseSession(ctx, id, reg.sid); err != nil {
			reg.logger.Warn().Err(err).Str("document_id", id).Msg("close session failed during shutdown")
		}
	}
}

// CheckStalledAnchors scans every live document's causal buffer for
// operations parked past grace and logs them as suspected loss (§7's
// AnchorMissingAfterDrain), without removing anything from the buffer.
func (reg *Registry) CheckStalledAnchors(grace time.Duration) {
	reg.mu.Lock()
	controllers := make([]*replica.Controller, 0, len(reg.controllers))
	for _, c := range reg.controllers {
		controllers = append(controllers, c)
	}
	reg.mu.Unlock()

	for _, c := range controllers {
		c.CheckAnchorGracePeriod(grace)
	}
}

// bootstrapController opens this process's session for documentID (minting
// a fresh ssn and detecting a live duplicate sid per §9(b)/(d)),
// loads the latest snapshot and any operations since its cursor, replays
// them into a fresh Controller, and subscribes it to the broadcast
// transport for this document.
func (reg *Registry) bootstrapController(ctx context.Context, documentID string) (*replica.Controller, func(), error) {
	ssn, err := reg.persistence.OpenSession(ctx, documentID, reg.sid)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap %s: %w", documentID, err)
	}

	c, unsubscribe, err := reg.bootstrapOpenController(ctx, documentID, ssn)
	if err != nil {
		if closeErr := reg.persistence.CloseSession(ctx, documentID, reg.sid); closeErr != nil {
			reg.logger.Warn().Err(closeErr).Str("document_id", documentID).Msg("close session failed after aborted bootstrap")
		}
		return nil, nil, err
	}
	return c, unsubscribe, nil
}

func (reg *Registry) bootstrapOpenController(ctx context.Context, documentID string, ssn uint64) (*replica.Controller, func(), error) {
	c := replica.New(documentID, reg.sid, ssn, reg.persistence, reg.broadcaster, reg.logger, reg.metrics, reg.snapshotIntervalOps)
	if reg.hub != nil {
		reg.hub.Wire(c, documentID)
	}

	rec, err := reg.persistence.LoadLatestSnapshot(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap %s: %w", documentID, err)
	}

	var cursor *s4vector.S4Vector
	if rec != nil && rec.HasLastS4 {
		s4 := rec.LastS4
		cursor = &s4
	}

	ops, err := reg.persistence.LoadOperationsSince(ctx, documentID, cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap %s: %w", documentID, err)
	}

	if err := c.Bootstrap(rec, ops); err != nil {
		return nil, nil, fmt.Errorf("bootstrap %s: %w: %v", documentID, rgaerr.ErrSnapshotCorruption, err)
	}

	unsubscribe, err := reg.broadcaster.Subscribe(ctx, documentID, func(op rga.Operation) {
		c.ReceiveRemote(op)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap %s: subscribe: %w", documentID, err)
	}

	return c, unsubscribe, nil
}
