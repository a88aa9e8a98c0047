// Package gateway pushes event-log envelopes to dashboard clients over
// WebSocket. The dashboard itself is an external consumer; this is transport
// plumbing only.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboard origin enforcement belongs to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is the wire format sent to clients: a monotonically increasing
// sequence number around the event envelope so clients can detect gaps.
type frame struct {
	Seq   int64           `json:"seq"`
	Event json.RawMessage `json:"event"`
}

// Hub fans event envelopes out to connected WebSocket clients and keeps a
// replay buffer so reconnecting clients can backfill what they missed.
type Hub struct {
	logger *slog.Logger
	replay *ReplayBuffer
	seq    atomic.Int64

	mu      sync.RWMutex
	clients map[*Client]bool

	// OnClientCount, when set, receives the connection count on every
	// register/unregister (metrics hook).
	OnClientCount func(n int)
}

// NewHub creates a hub with a replay buffer of replayCap envelopes.
func NewHub(replayCap int, logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		replay:  NewReplayBuffer(replayCap),
		clients: make(map[*Client]bool),
	}
}

// PublishEvent broadcasts one envelope to every connected client. Slow
// clients get dropped frames rather than blocking the emitter; the replay
// buffer covers the gap on their next reconnect.
func (h *Hub) PublishEvent(typ string, envelope []byte) {
	seq := h.seq.Add(1)
	data, err := json.Marshal(frame{Seq: seq, Event: envelope})
	if err != nil {
		h.logger.Error("frame marshal failed", "type", typ, "err", err)
		return
	}

	h.replay.Push(seq, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, frame dropped
		}
	}
}

// ServeWS upgrades the connection, replays buffered frames past the
// client's ?since=<seq> cursor, and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newClient(conn, h)
	h.register(c)

	since := parseSince(r.URL.Query().Get("since"))
	for _, entry := range h.replay.Since(since) {
		select {
		case c.send <- entry.Data:
		default:
		}
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("dashboard client connected", "clients", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("dashboard client disconnected", "clients", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}
