// Package realtime streams recorded activity events to dashboard clients
// over WebSocket. Each connection belongs to one user and only receives that
// user's events, optionally narrowed to a set of event types.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contextforge/contextforge/internal/metrics"
)

const (
	// MaxClients caps concurrent WebSocket connections across all users.
	MaxClients = 10000

	sendBuffer   = 256
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Event is one activity event as pushed to clients.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription narrows the event types a client receives. An empty list
// means every type. Clients send it as a JSON text frame at any time.
type Subscription struct {
	EventTypes []string `json:"eventTypes"`
}

type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu  sync.RWMutex
	sub Subscription
}

func (s *subscriber) wants(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sub.EventTypes) == 0 || slices.Contains(s.sub.EventTypes, eventType)
}

func (s *subscriber) subscribe(sub Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	ConnectedUsers   int   `json:"connectedUsers"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// Hub fans published events out to the WebSocket connections of the
// event's user. All membership changes go through Run.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*subscriber]struct{}
	count  int

	broadcast  chan *Event
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{} // closed when Run exits
	logger     *slog.Logger
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		byUser:     make(map[string]map[*subscriber]struct{}),
		broadcast:  make(chan *Event, sendBuffer),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		done:       make(chan struct{}),
		logger:     logger,
		maxClients: MaxClients,
	}
}

// Run processes registrations and deliveries until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	set := h.byUser[s.userID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.byUser[s.userID] = set
	}
	set[s] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client connected", "user_id", s.userID, "total", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	removed := h.drop(s)
	n := h.count
	h.mu.Unlock()

	if removed {
		metrics.ActiveWebSocketClients.Set(float64(n))
		h.logger.Debug("client disconnected", "user_id", s.userID, "total", n)
	}
}

// drop forgets s and closes its queue. Caller holds h.mu.
func (h *Hub) drop(s *subscriber) bool {
	set := h.byUser[s.userID]
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.byUser, s.userID)
	}
	h.count--
	close(s.send) // writePump sends a close frame
	return true
}

func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("dropping unencodable event", "type", ev.Type, "error", err)
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.byUser[ev.UserID] {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.send <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	// A full queue means the client stopped reading.
	h.mu.Lock()
	for _, s := range slow {
		h.drop(s)
	}
	n := h.count
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for _, set := range h.byUser {
		for s := range set {
			h.drop(s)
		}
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

// Publish queues ev for delivery. It never blocks; events are dropped
// when the queue is full.
func (h *Hub) Publish(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// Stats reports connection and event counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		ConnectedClients: h.count,
		ConnectedUsers:   len(h.byUser),
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedEvents:    h.dropped.Load(),
	}
}

// Serve upgrades the request to a WebSocket bound to userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

// readPump applies subscription updates until the connection closes.
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if json.Unmarshal(msg, &sub) == nil {
			s.subscribe(sub)
		}
	}
}

// writePump drains the send queue and keeps the connection alive.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
