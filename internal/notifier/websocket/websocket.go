// Package websocket broadcasts signals and lifecycle events to connected
// websocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
)

const defaultWriteTimeout = 5 * time.Second

// Hub is a Notifier that pushes JSON payloads to every connected client.
// It is also an http.Handler that upgrades incoming connections.
type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// New creates a hub with permissive origin checks
func New(logger ...*zap.Logger) *Hub {
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Hub{
		logger: l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*websocket.Conn]struct{}),
	}
}

// Name returns the notifier name
func (h *Hub) Name() string {
	return "websocket"
}

// Init reads the optional write_timeout_ms param
func (h *Hub) Init(cfg notifier.Config) error {
	switch v := cfg.Params["write_timeout_ms"].(type) {
	case int:
		h.writeTimeout = time.Duration(v) * time.Millisecond
	case float64:
		h.writeTimeout = time.Duration(v) * time.Millisecond
	case nil:
	default:
		return core.Errorf(core.ErrConfigInvalid, "write_timeout_ms must be a number, got %T", v)
	}
	if h.writeTimeout <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "write_timeout_ms must be positive")
	}
	return nil
}

// ServeHTTP upgrades the request and registers the connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", count))

	// Reads only detect disconnects; clients never send anything we act on.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Send broadcasts one signal
func (h *Hub) Send(ctx context.Context, signal core.Signal) error {
	return h.broadcast(ctx, notifier.SignalPayload(signal))
}

// SendBatch broadcasts signals as one batch message
func (h *Hub) SendBatch(ctx context.Context, signals []core.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	items := make([]map[string]any, len(signals))
	for i, s := range signals {
		items[i] = notifier.SignalPayload(s)
	}
	return h.broadcast(ctx, map[string]any{
		"type":    "batch",
		"count":   len(signals),
		"signals": items,
	})
}

// SendEvent broadcasts a lifecycle event
func (h *Hub) SendEvent(ctx context.Context, event core.Event) error {
	return h.broadcast(ctx, notifier.EventPayload(event))
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	return nil
}

func (h *Hub) broadcast(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.ErrChannel, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return core.WrapError(core.ErrChannel, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("dropping websocket client", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return nil
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}
