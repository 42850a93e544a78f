package state

import (
	"bytes"
	"sync"
	"time"

	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/wire"
)

// SessSendStatus is the result of relaying a message to a session.
type SessSendStatus int

const (
	// SessSendOK indicates the message was queued for delivery.
	SessSendOK SessSendStatus = iota
	// SessSendClosed indicates the send did not complete because the
	// session is closed.
	SessSendClosed
	// SessQueueFull indicates the send failed because the session's
	// outbound queue is full; the client is likely dead or stalled.
	SessQueueFull
)

// outboundQueueSize bounds the number of frames buffered for a slow
// writer before relays to it start failing with SessQueueFull.
const outboundQueueSize = 256

// Phase is the session's position in the handshake/authentication/room
// state machine.
type Phase int

const (
	PhaseAccepted Phase = iota
	PhaseAwaitingAuth
	PhaseAuthenticated
	PhaseInRoom
	PhaseTerminated
)

// Outbound is a queued frame waiting to be written by a session's
// writer goroutine.
type Outbound struct {
	Type    uint8
	Payload []byte
}

// Session owns exactly one transport connection. It tracks the
// handshake/authentication state machine, the authenticated user (once
// resolved), the room the session currently belongs to, and the
// serialized outbound write queue. A session belongs to at most one
// room at any instant.
type Session struct {
	mutex sync.RWMutex

	id         string
	remoteAddr string

	phase Phase
	user  *identity.User

	roomID string

	createdAt    time.Time
	lastActivity time.Time

	msgCh  chan Outbound
	stopCh chan struct{}
	closed bool

	now func() time.Time
}

// NewSession creates a Session in PhaseAccepted for a freshly accepted
// connection.
func NewSession(id, remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		remoteAddr:   remoteAddr,
		phase:        PhaseAccepted,
		createdAt:    now,
		lastActivity: now,
		msgCh:        make(chan Outbound, outboundQueueSize),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the session's remote address as observed at
// accept time (or as reported by a consumed PROXY header).
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Phase returns the session's current state-machine phase.
func (s *Session) Phase() Phase {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.phase
}

// SetPhase transitions the session to a new phase.
func (s *Session) SetPhase(p Phase) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.phase = p
}

// User returns the session's authenticated user, or nil if the
// handshake has not completed.
func (s *Session) User() *identity.User {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.user
}

// SetUser records the user resolved at authentication. Immutable
// afterward for the lifetime of the session.
func (s *Session) SetUser(u identity.User) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.user = &u
	s.phase = PhaseAuthenticated
}

// RoomID returns the id of the room this session currently belongs to,
// or "" if it is not in a room.
func (s *Session) RoomID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID
}

// SetRoomID records the room this session belongs to. Pass "" to clear
// it on leave/kick/disconnect.
func (s *Session) SetRoomID(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
	if roomID != "" {
		s.phase = PhaseInRoom
	} else if s.phase == PhaseInRoom {
		s.phase = PhaseAuthenticated
	}
}

// Touch records inbound activity, resetting the keepalive deadline.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = s.now()
}

// LastActivity returns the time of the most recently received frame.
func (s *Session) LastActivity() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActivity
}

// CreatedAt returns when the session was accepted.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Relay queues a frame for delivery by the session's writer goroutine.
// It never blocks: a full queue returns SessQueueFull rather than
// stalling the caller (which would otherwise be the single serialized
// room actor, per §5).
func (s *Session) Relay(msgType uint8, payload []byte) SessSendStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return SessSendClosed
	}
	select {
	case s.msgCh <- Outbound{Type: msgType, Payload: payload}:
		return SessSendOK
	case <-s.stopCh:
		return SessSendClosed
	default:
		return SessQueueFull
	}
}

// RelayMessage marshals msg with the struct-tag codec and relays it as
// msgType.
func (s *Session) RelayMessage(msgType uint8, msg any) (SessSendStatus, error) {
	buf, err := marshalPayload(msg)
	if err != nil {
		return SessSendClosed, err
	}
	return s.Relay(msgType, buf), nil
}

// Outbound returns the channel the session's writer goroutine reads
// queued frames from.
func (s *Session) Outbound() <-chan Outbound {
	return s.msgCh
}

// Close shuts down the session's outbound queue. Safe to call more
// than once and from multiple goroutines.
func (s *Session) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stopCh)
}

// Closed returns a channel that is closed once the session has been
// closed.
func (s *Session) Closed() <-chan struct{} {
	return s.stopCh
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closed
}

func marshalPayload(msg any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := wire.Marshal(msg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
