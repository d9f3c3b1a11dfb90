package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/api"
	"github.com/trailwatch/trailwatch/server/internal/query"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// notifyBufSize bounds queued change notifications.
	notifyBufSize = 64
)

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string             `json:"event"`
	Data  api.TrailsResponse `json:"data"`
}

// Snapshotter supplies the current trail snapshot. *query.Engine implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]query.Status, error)
}

// Hub manages WebSocket clients and pushes trail snapshots to them.
type Hub struct {
	source   Snapshotter
	interval time.Duration
	upgrader websocket.Upgrader
	notify   chan string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	prefix string
}

// New creates a Hub that reads snapshots from src and rebroadcasts every
// interval. allowRead decides whether a connecting browser origin ("" when
// absent) may subscribe; nil admits every origin.
func New(src Snapshotter, interval time.Duration, allowRead func(origin string) bool) *Hub {
	h := &Hub{
		source:   src,
		interval: interval,
		notify:   make(chan string, notifyBufSize),
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowRead == nil {
				return true
			}
			ok := allowRead(r.Header.Get("Origin"))
			if !ok {
				slog.Info("ws: origin rejected", "origin", r.Header.Get("Origin"))
			}
			return ok
		},
	}
	return h
}

// Notify tells the hub that trailID has a new reading. Matching subscribers
// receive a fresh snapshot. Notify never blocks; a full queue is coalesced
// into a broadcast to everyone.
func (h *Hub) Notify(trailID string) {
	select {
	case h.notify <- trailID:
	default:
		select {
		case h.notify <- "":
		default:
		}
	}
}

// Run starts the broadcast loop. It pushes on every notification and every
// interval. Run blocks until ctx is cancelled, then closes all active
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case id := <-h.notify:
			h.broadcast(ctx, func(c *client) bool { return id == "" || strings.HasPrefix(id, c.prefix) })
		case <-t.C:
			h.broadcast(ctx, func(*client) bool { return true })
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends the current snapshot immediately on connect, then continues to
// receive broadcasts. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix != "" && !telemetry.ValidTrailID(prefix) {
		http.Error(w, `{"error":"Invalid trail ID format"}`, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		prefix: prefix,
	}
	// Queue the current snapshot before registering so the dashboard has data
	// right away and no broadcast can race the first send.
	if statuses, err := h.snapshot(r.Context()); err == nil {
		if data, err := buildMessage(statuses, c.prefix); err == nil {
			c.send <- data
		}
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// snapshot fetches the current statuses. No data at all is an empty
// snapshot, not an error.
func (h *Hub) snapshot(ctx context.Context) ([]query.Status, error) {
	statuses, err := h.source.Snapshot(ctx)
	if errors.Is(err, query.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("ws: snapshot failed", "err", err)
		return nil, err
	}
	return statuses, nil
}

func (h *Hub) broadcast(ctx context.Context, match func(*client) bool) {
	if h.Count() == 0 {
		return
	}
	statuses, err := h.snapshot(ctx)
	if err != nil {
		return
	}

	// Sends happen under the read lock so unregister cannot close a channel
	// mid-send.
	byPrefix := make(map[string][]byte)
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		data, ok := byPrefix[c.prefix]
		if !ok {
			if data, err = buildMessage(statuses, c.prefix); err != nil {
				continue
			}
			byPrefix[c.prefix] = data
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// Clients whose outgoing buffer is full are disconnected.
	for _, c := range slow {
		h.unregister(c)
	}
}

func buildMessage(statuses []query.Status, prefix string) ([]byte, error) {
	matched := make([]query.Status, 0, len(statuses))
	for _, st := range statuses {
		if strings.HasPrefix(st.TrailID, prefix) {
			matched = append(matched, st)
		}
	}
	return json.Marshal(Message{Event: "snapshot", Data: api.BuildTrails(matched)})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
