// Package observer implements the administrative WebSocket surface: a
// Hub fans out serverStats and roomList snapshots to connected
// observers, and serves per-room detail snapshots on request. admin.go
// layers the HTTP admin command bus on top of the same domain
// collaborators.
package observer

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beatline/syncserver/service"
	"github.com/beatline/syncserver/state"
)

// subscriberQueueSize bounds the per-subscriber outbound buffer (spec
// §4.8: "per-subscriber send queues are bounded; slow subscribers are
// dropped").
const subscriberQueueSize = 32

// Message is the envelope every observer-protocol frame uses, in both
// directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// serverStatsPayload is the serverStats server->client payload.
type serverStatsPayload struct {
	TotalPlayers int `json:"totalPlayers"`
	TotalRooms   int `json:"totalRooms"`
}

// roomDigest is one entry of a roomList payload.
type roomDigest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Players  int    `json:"players"`
	Capacity uint8  `json:"capacity"`
	Locked   bool   `json:"locked"`
	State    string `json:"state"`
}

type roomListPayload struct {
	Rooms []roomDigest `json:"rooms"`
}

// roomDetailsPayload is the roomDetails server->client payload,
// published on subscription to a specific room.
type roomDetailsPayload struct {
	roomDigest
	HostUserID uint32              `json:"hostUserId"`
	CycleMode  bool                `json:"cycleMode"`
	Members    []wireMember        `json:"members"`
	OtherRooms []roomDigest        `json:"otherRooms"`
	Chart      *wireChartDescriptr `json:"chart,omitempty"`
}

type wireMember struct {
	UserID      uint32 `json:"userId"`
	DisplayName string `json:"displayName"`
	Ready       bool   `json:"ready"`
}

type wireChartDescriptr struct {
	ChartID string `json:"chartId"`
	Name    string `json:"name"`
}

// getRoomDetailsRequest is the client->server request shape.
type getRoomDetailsRequest struct {
	RoomID string `json:"roomId"`
}

// Hub maintains the set of live observer subscribers and fans out
// snapshots on every relevant domain change. Room and session services
// call Touch (wired via SetObserver) whenever domain state moves; the
// hub coalesces bursts of touches into a single emission.
type Hub struct {
	sessions service.SessionRegistry
	rooms    service.RoomManager
	logger   *slog.Logger

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	allowedOrigins []string

	coalesceWindow time.Duration
	coalesceMu     sync.Mutex
	coalesceTimer  *time.Timer

	stopOnce sync.Once
	stop     chan struct{}
}

// subscriber is one connected observer.
type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	closed atomic.Bool
	// roomID is the room this subscriber last requested details for,
	// re-sent whenever that room changes.
	mu     sync.Mutex
	roomID string
}

// NewHub wires a Hub from its domain collaborators. coalesceWindow of
// zero disables coalescing (every touch flushes immediately).
func NewHub(sessions service.SessionRegistry, rooms service.RoomManager, coalesceWindow time.Duration, logger *slog.Logger) *Hub {
	h := &Hub{
		sessions:       sessions,
		rooms:          rooms,
		logger:         logger,
		subscribers:    make(map[*subscriber]struct{}),
		coalesceWindow: coalesceWindow,
		stop:           make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetAllowedOrigins restricts WebSocket upgrades to the given Origin
// values (or "*" for any). An empty list falls back to a
// private-network-only policy.
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = origins
}

// checkOrigin validates the upgrade request's Origin header against
// the configured allow list. A request without an Origin header is
// accepted; when nothing is configured, only localhost, loopback and
// private-network origins are accepted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	h.mu.RLock()
	allowed := h.allowedOrigins
	h.mu.RUnlock()

	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	if len(allowed) > 0 {
		h.logger.Warn("observer upgrade rejected by origin allowlist", "origin", origin)
		return false
	}

	host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	if colon := strings.IndexByte(host, ':'); colon != -1 {
		host = host[:colon]
	}
	if isPrivateHost(host) {
		return true
	}
	h.logger.Warn("observer upgrade rejected, not a private origin", "origin", origin)
	return false
}

func isPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// Touch marks the hub dirty, scheduling a coalesced snapshot emission.
// Cheap and safe to call from any goroutine; intended to be wired as
// RoomService.SetObserver / SessionService.SetObserver's callback.
func (h *Hub) Touch() {
	if h.coalesceWindow <= 0 {
		h.flush()
		return
	}
	h.coalesceMu.Lock()
	defer h.coalesceMu.Unlock()
	if h.coalesceTimer != nil {
		return
	}
	h.coalesceTimer = time.AfterFunc(h.coalesceWindow, func() {
		h.coalesceMu.Lock()
		h.coalesceTimer = nil
		h.coalesceMu.Unlock()
		h.flush()
	})
}

// flush computes the current serverStats and roomList snapshots and
// dispatches them to every subscriber, plus a refreshed roomDetails
// for any subscriber with an active room subscription.
func (h *Hub) flush() {
	stats := h.statsSnapshot()
	rooms := h.rooms.List()
	list := h.roomListSnapshot(rooms)

	h.dispatchAll(Message{Type: "serverStats", Payload: stats})
	h.dispatchAll(Message{Type: "roomList", Payload: list})

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		roomID := s.roomID
		s.mu.Unlock()
		if roomID == "" {
			continue
		}
		if details, ok := h.roomDetailsSnapshot(roomID, list); ok {
			h.dispatchOne(s, Message{Type: "roomDetails", Payload: details})
		}
	}
}

func (h *Hub) statsSnapshot() serverStatsPayload {
	return serverStatsPayload{
		TotalPlayers: h.sessions.Count(),
		TotalRooms:   len(h.rooms.List()),
	}
}

func (h *Hub) roomListSnapshot(rooms []state.Snapshot) roomListPayload {
	out := make([]roomDigest, len(rooms))
	for i, r := range rooms {
		out[i] = snapshotToDigest(r)
	}
	return roomListPayload{Rooms: out}
}

func (h *Hub) roomDetailsSnapshot(roomID string, list roomListPayload) (roomDetailsPayload, bool) {
	room, err := h.rooms.Get(roomID)
	if err != nil {
		return roomDetailsPayload{}, false
	}
	snap := room.Snapshot()

	members := make([]wireMember, len(snap.Members))
	for i, m := range snap.Members {
		members[i] = wireMember{UserID: m.UserID, DisplayName: m.DisplayName, Ready: m.Ready}
	}

	others := make([]roomDigest, 0, len(list.Rooms))
	for _, d := range list.Rooms {
		if d.ID != roomID {
			others = append(others, d)
		}
	}

	var chart *wireChartDescriptr
	if snap.SelectedChart != nil {
		chart = &wireChartDescriptr{ChartID: snap.SelectedChart.ChartID, Name: snap.SelectedChart.Name}
	}

	return roomDetailsPayload{
		roomDigest: snapshotToDigest(snap),
		HostUserID: snap.HostUserID,
		CycleMode:  snap.CycleMode,
		Members:    members,
		OtherRooms: others,
		Chart:      chart,
	}, true
}

func snapshotToDigest(snap state.Snapshot) roomDigest {
	return roomDigest{
		ID:       snap.ID,
		Name:     snap.Name,
		Players:  len(snap.Members),
		Capacity: snap.Capacity,
		Locked:   snap.Locked,
		State:    snap.State.String(),
	}
}

// dispatchAll marshals msg once and fans it out to every subscriber,
// dropping (and disconnecting) any whose send queue is full.
func (h *Hub) dispatchAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("observer marshal failed", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.sendRaw(s, data)
	}
}

func (h *Hub) dispatchOne(s *subscriber, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("observer marshal failed", "type", msg.Type, "error", err)
		return
	}
	h.sendRaw(s, data)
}

func (h *Hub) sendRaw(s *subscriber, data []byte) {
	if !s.safeSend(data) {
		h.unregister(s)
		h.logger.Warn("observer subscriber dropped, send queue full", "subscriber", s.id)
	}
}

// HandleWebSocket upgrades r into an observer subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("observer upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, subscriberQueueSize),
		id:   r.RemoteAddr,
	}

	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()

	go s.writePump()
	go s.readPump()

	// Prime the new subscriber with a snapshot instead of waiting for
	// the next touch.
	h.dispatchOne(s, Message{Type: "serverStats", Payload: h.statsSnapshot()})
	h.dispatchOne(s, Message{Type: "roomList", Payload: h.roomListSnapshot(h.rooms.List())})
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[s]
	if present {
		delete(h.subscribers, s)
	}
	h.mu.Unlock()
	if present && s.closed.CompareAndSwap(false, true) {
		close(s.send)
	}
}

// SubscriberCount reports the number of live observer connections.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stop tears down any pending coalesce timer. Live subscriber
// goroutines exit on their own once their connection closes.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.coalesceMu.Lock()
		if h.coalesceTimer != nil {
			h.coalesceTimer.Stop()
		}
		h.coalesceMu.Unlock()
	})
}

func (s *subscriber) safeSend(data []byte) (sent bool) {
	if s.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "getRoomDetails" {
			continue
		}
		payloadBytes, err := json.Marshal(msg.Payload)
		if err != nil {
			continue
		}
		var req getRoomDetailsRequest
		if err := json.Unmarshal(payloadBytes, &req); err != nil || req.RoomID == "" {
			continue
		}
		s.mu.Lock()
		s.roomID = req.RoomID
		s.mu.Unlock()

		if details, ok := s.hub.roomDetailsSnapshot(req.RoomID, s.hub.roomListSnapshot(s.hub.rooms.List())); ok {
			s.hub.dispatchOne(s, Message{Type: "roomDetails", Payload: details})
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.hub.stop:
			return
		}
	}
}
