// Package ws implements the WebSocket adapter pushing sync events to the
// connected clients of a tenant.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/feedbacksync/internal/middleware"
)

// writeTimeout bounds a write to one slow client.
const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws       *websocket.Conn
	cancel   context.CancelFunc
	tenantID string
}

// Hub manages all active WebSocket connections, grouped by tenant.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*conn]struct{}
	origins []string
}

// NewHub creates a new WebSocket hub. origins lists the host patterns
// allowed to connect cross-origin; empty means same-origin only.
func NewHub(origins ...string) *Hub {
	return &Hub{
		tenants: make(map[string]map[*conn]struct{}),
		origins: origins,
	}
}

// HandleWS upgrades an authenticated request to a WebSocket bound to the
// caller's tenant.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromRequest(r)
	if tenantID == "" {
		http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The request context ends with the handler; the read loop outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, tenantID: tenantID}
	h.add(c)

	slog.Info("websocket connected", "remote", r.RemoteAddr, "tenant_id", tenantID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// BroadcastToTenant sends a message to every client of one tenant.
func (h *Hub) BroadcastToTenant(ctx context.Context, tenantID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.tenants[tenantID]))
	for c := range h.tenants[tenantID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "tenant_id", tenantID, "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.tenants {
		n += len(conns)
	}
	return n
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.tenants[c.tenantID]
	if !ok {
		conns = make(map[*conn]struct{})
		h.tenants[c.tenantID] = conns
	}
	conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.tenants[c.tenantID]
	if _, ok := conns[c]; !ok {
		return
	}
	c.cancel()
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.tenants, c.tenantID)
	}
	slog.Info("websocket disconnected", "tenant_id", c.tenantID)
}
