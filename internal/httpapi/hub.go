package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/collabtext/replica/internal/replica"
	"github.com/collabtext/replica/internal/rga"
)

// Hub fans out locally-applied operations to connected websocket clients,
// one set of clients per document. Grounded in the teacher's sibling
// agent/main.go Hub (clients map[*Client]bool, broadcast/register/
// unregister channels), generalized from a single global document to
// one Hub entry per document_id.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs an empty Hub. CheckOrigin is permissive, matching the
// teacher's upgrader — this process sits behind whatever origin policy
// the deployment's edge proxy enforces.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[string]map[*client]bool),
	}
}

// Wire subscribes the Hub to every operation the given Controller applies
// locally, so connected editor clients for documentID see it without
// polling GET /documents/{id}.
func (h *Hub) Wire(c *replica.Controller, documentID string) {
	c.SetLocalApplyHook(func(op rga.Operation) {
		h.broadcast(documentID, op)
	})
}

// ServeWS upgrades the request to a websocket and registers the
// connection against documentID until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, documentID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := &client{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	if h.clients[documentID] == nil {
		h.clients[documentID] = make(map[*client]bool)
	}
	h.clients[documentID][cl] = true
	h.mu.Unlock()

	go h.writePump(documentID, cl)
	h.readPump(documentID, cl)
	return nil
}

func (h *Hub) readPump(documentID string, cl *client) {
	defer h.unregister(documentID, cl)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(documentID string, cl *client) {
	defer cl.conn.Close()
	for msg := range cl.send {
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(documentID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[documentID]; ok {
		if _, present := set[cl]; present {
			delete(set, cl)
			close(cl.send)
		}
	}
}

func (h *Hub) broadcast(documentID string, op rga.Operation) {
	payload, err := json.Marshal(wireEvent{
		Kind:  op.Kind.String(),
		Index: -1,
		Value: op.Value,
		S4:    op.S4.String(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients[documentID] {
		select {
		case cl.send <- payload:
		default:
			// Slow consumer: drop rather than block the goroutine
			// whose Controller call triggered this broadcast.
		}
	}
}

type wireEvent struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	Value string `json:"value,omitempty"`
	S4    string `json:"s4"`
}
