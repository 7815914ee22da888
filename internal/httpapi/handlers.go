package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/collabtext/replica/internal/replica"
	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
)

// Server binds the Registry to the HTTP surface spec.md §6 names:
// POST /documents, GET /documents/{id}, POST /documents/{id}/edit,
// POST /sync, GET /metadata/{id}, POST /bootstrap/{id}, plus the
// supplemented GET /documents/{id}/ws realtime fan-out.
type Server struct {
	registry *Registry
	hub      *Hub
	logger   zerolog.Logger
}

// NewServer constructs a Server; Router builds its gorilla/mux router.
func NewServer(registry *Registry, hub *Hub, logger zerolog.Logger) *Server {
	return &Server{registry: registry, hub: hub, logger: logger}
}

// Router builds the gorilla/mux router for this server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/edit", s.handleEdit).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/ws", s.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/metadata/{id}", s.handleMetadata).Methods(http.MethodGet)
	r.HandleFunc("/bootstrap/{id}", s.handleBootstrap).Methods(http.MethodPost)
	return r
}

type createDocumentResponse struct {
	DocumentID string `json:"document_id"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createDocumentResponse{DocumentID: id})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": id, "content": c.Materialise()})
}

type editRequestBody struct {
	Index int    `json:"index"`
	Value string `json:"value"`
	Kind  string `json:"kind"` // "insert" or "delete"
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body editRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Index < 0 {
		http.Error(w, "index must be non-negative", http.StatusBadRequest)
		return
	}

	c, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	kind := rga.KindInsert
	if body.Kind == "delete" {
		kind = rga.KindDelete
	}

	op, err := c.SubmitLocal(r.Context(), replica.EditRequest{Kind: kind, Index: uint64(body.Index), Value: body.Value})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"s4": op.S4.String()})
}

type syncRequestBody struct {
	DocumentID string `json:"document_id"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DocumentID == "" {
		http.Error(w, "document_id is required", http.StatusBadRequest)
		return
	}

	c, err := s.registry.Get(r.Context(), body.DocumentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.ForceSnapshot(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	md := c.Metadata()
	resp := map[string]any{
		"buffered_op_count": md.BufferedOpCount,
		"crdt_state_hash":   md.StateHash,
	}
	if md.HasLastS4 {
		resp["last_s4"] = md.LastS4.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Reload(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.ServeWS(w, r, id); err != nil {
		s.logger.Error().Err(err).Str("document_id", id).Msg("websocket upgrade failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rgaerr.ErrIndexOutOfRange), errors.Is(err, rgaerr.ErrNotVisible):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, rgaerr.ErrSnapshotCorruption):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, rgaerr.ErrDuplicateSID):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, rgaerr.ErrPersistenceFailure), errors.Is(err, rgaerr.ErrBroadcastFailure):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
