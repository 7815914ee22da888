package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
	"github.com/collabtext/replica/internal/s4vector"
	"github.com/collabtext/replica/internal/snapshot"
	"github.com/collabtext/replica/internal/telemetry"
)

// fakePersistence and fakeBroadcaster mirror the in-memory test doubles
// in internal/replica, duplicated here rather than exported across
// package boundaries since each package's tests own their fixtures.
type fakePersistence struct {
	mu     sync.Mutex
	ops    []rga.Operation
	recs   map[string]snapshot.Record
	ssns   map[string]uint64
	active map[string]bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		recs:   make(map[string]snapshot.Record),
		ssns:   make(map[string]uint64),
		active: make(map[string]bool),
	}
}

func (f *fakePersistence) AppendOperation(ctx context.Context, op rga.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakePersistence) LoadLatestSnapshot(ctx context.Context, documentID string) (*snapshot.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[documentID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakePersistence) LoadOperationsSince(ctx context.Context, documentID string, cursor *s4vector.S4Vector) ([]rga.Operation, error) {
	return nil, nil
}

func (f *fakePersistence) WriteSnapshot(ctx context.Context, documentID string, rec snapshot.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[documentID] = rec
	return nil
}

func (f *fakePersistence) OpenSession(ctx context.Context, documentID string, sid uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%d", documentID, sid)
	if f.active[key] {
		return 0, rgaerr.ErrDuplicateSID
	}
	f.ssns[key]++
	f.active[key] = true
	return f.ssns[key], nil
}

func (f *fakePersistence) CloseSession(ctx context.Context, documentID string, sid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[fmt.Sprintf("%s/%d", documentID, sid)] = false
	return nil
}

type fakeBroadcaster struct{}

func (fakeBroadcaster) Publish(ctx context.Context, documentID string, op rga.Operation) error {
	return nil
}

func (fakeBroadcaster) Subscribe(ctx context.Context, documentID string, handler func(rga.Operation)) (func(), error) {
	return func() {}, nil
}

func newTestServer() *Server {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	hub := NewHub()
	reg := NewRegistry(newFakePersistence(), fakeBroadcaster{}, zerolog.Nop(), metrics, hub, 1, 0)
	return NewServer(reg, hub, zerolog.Nop())
}

func TestCreateAndEditDocumentEndToEnd(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	createReq := httptest.NewRequest(http.MethodPost, "/documents", nil)
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created createDocumentResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.DocumentID)

	body, _ := json.Marshal(editRequestBody{Index: 0, Value: "hi", Kind: "insert"})
	editReq := httptest.NewRequest(http.MethodPost, "/documents/"+created.DocumentID+"/edit", bytes.NewReader(body))
	editRec := httptest.NewRecorder()
	router.ServeHTTP(editRec, editReq)
	assert.Equal(t, http.StatusOK, editRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/documents/"+created.DocumentID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &doc))
	assert.Equal(t, "hi", doc["content"])
}

func TestEditRejectsNegativeIndex(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	body, _ := json.Marshal(editRequestBody{Index: -1, Value: "x", Kind: "insert"})
	req := httptest.NewRequest(http.MethodPost, "/documents/doc-1/edit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataEndpointReportsStateHash(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	body, _ := json.Marshal(editRequestBody{Index: 0, Value: "a", Kind: "insert"})
	editReq := httptest.NewRequest(http.MethodPost, "/documents/doc-2/edit", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), editReq)

	req := httptest.NewRequest(http.MethodGet, "/metadata/doc-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var md map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.NotEmpty(t, md["crdt_state_hash"])
}
