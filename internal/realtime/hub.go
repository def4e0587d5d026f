// Package realtime pushes escrow lifecycle events to WebSocket clients.
//
// A connection is bound to the principal of the session that opened it and
// only sees escrows where that principal is owner or destination. Clients
// may narrow the stream by sending a Filter as a text frame at any time.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventEscrowCreated  EventType = "escrow_created"
	EventEscrowFinished EventType = "escrow_finished"
	EventEscrowCanceled EventType = "escrow_canceled"
)

// Event is the frame written to clients.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`

	escrowID string
	parties  [2]string
}

func newEvent(t EventType, data map[string]any) *Event {
	ev := &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
	ev.escrowID, _ = data["escrowId"].(string)
	ev.parties[0], _ = data["owner"].(string)
	ev.parties[1], _ = data["destination"].(string)
	return ev
}

// Filter narrows a client's stream. Empty fields match everything.
type Filter struct {
	EventTypes []EventType `json:"eventTypes"`
	EscrowIDs  []string    `json:"escrowIds"`
}

func (f *Filter) matches(ev *Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, ev.Type) {
		return false
	}
	return len(f.EscrowIDs) == 0 || slices.Contains(f.EscrowIDs, ev.escrowID)
}

// Stats summarizes hub activity for /health.
type Stats struct {
	Connected int   `json:"connected"`
	Peak      int64 `json:"peak"`
	Accepted  int64 `json:"accepted"`
	Events    int64 `json:"events"`
	Dropped   int64 `json:"dropped"`
}

const (
	// MaxClients caps concurrent connections.
	MaxClients = 1000

	sendBuffer   = 64
	queueSize    = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingEvery    = pongTimeout / 2
	maxFrame     = 4 << 10
)

var (
	errHubClosed = errors.New("realtime: hub closed")
	errHubFull   = errors.New("realtime: too many connections")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin admits non-browser clients and pages served from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
}

type client struct {
	conn      *websocket.Conn
	out       chan []byte
	principal string
	filter    atomic.Pointer[Filter]
}

// sees reports whether the client is a party to the event and wants it.
// An empty principal sees every escrow.
func (c *client) sees(ev *Event) bool {
	if c.principal != "" && c.principal != ev.parties[0] && c.principal != ev.parties[1] {
		return false
	}
	return c.filter.Load().matches(ev)
}

// Hub fans events out to connected clients.
type Hub struct {
	logger *slog.Logger
	queue  chan *Event
	limit  int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	peak     atomic.Int64
	accepted atomic.Int64
	events   atomic.Int64
	dropped  atomic.Int64
}

// NewHub returns a hub. Events are delivered only while Run is active.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		queue:   make(chan *Event, queueSize),
		limit:   MaxClients,
		clients: make(map[*client]struct{}),
	}
}

// Run delivers queued events until ctx is done, then disconnects every
// client and refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev := <-h.queue:
			h.deliver(ev)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.out)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
	h.logger.Info("realtime hub stopped")
}

func (h *Hub) deliver(ev *Event) {
	h.events.Add(1)
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	var stalled []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.sees(ev) {
			continue
		}
		select {
		case c.out <- frame:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	// A client that cannot keep up is cut off rather than slowing the rest.
	for _, c := range stalled {
		h.logger.Warn("dropping slow websocket client", "principal", c.principal)
		h.detach(c)
	}
}

// BroadcastEscrow queues a lifecycle event. It never blocks the caller;
// when the queue is full the event is dropped.
func (h *Hub) BroadcastEscrow(eventType string, data map[string]any) {
	select {
	case h.queue <- newEvent(EventType(eventType), data):
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "type", eventType)
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Connected: n,
		Peak:      h.peak.Load(),
		Accepted:  h.accepted.Load(),
		Events:    h.events.Load(),
		Dropped:   h.dropped.Load(),
	}
}

func (h *Hub) attach(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	if len(h.clients) >= h.limit {
		return errHubFull
	}
	h.clients[c] = struct{}{}
	n := int64(len(h.clients))
	if n > h.peak.Load() {
		h.peak.Store(n)
	}
	h.accepted.Add(1)
	metrics.ActiveWebSocketClients.Set(float64(n))
	return nil
}

// detach removes c and closes its outbound channel. Safe to call twice.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.out)
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

// admit checks capacity before the upgrade so refusals are plain HTTP.
func (h *Hub) admit() (int, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.closed:
		return http.StatusServiceUnavailable, "server shutting down"
	case len(h.clients) >= h.limit:
		return http.StatusServiceUnavailable, "too many connections"
	}
	return 0, ""
}

// HandleWebSocket upgrades the request and streams events visible to
// principal until either side closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, principal string) {
	if code, msg := h.admit(); code != 0 {
		http.Error(w, msg, code)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, out: make(chan []byte, sendBuffer), principal: principal}
	if err := h.attach(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket client connected", "principal", principal)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop applies filter updates and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read ended", "principal", c.principal, "error", err)
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		c.filter.Store(&f)
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
