// Package dispatcher routes decoded inbound frames to the service
// layer. It is the only layer that drives domain
// operations from network input: handlers below it never read a raw
// frame, and the transport above it never touches wire.RawFrame.Type
// beyond handing it to Dispatch. It also owns keepalive scheduling and
// the authentication-window deadline per session.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beatline/syncserver/service"
	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// Config bounds the deadlines the dispatcher enforces per session.
type Config struct {
	// AuthTimeout is how long a session may stay in AwaitingAuth before
	// it is closed with AUTH_TIMEOUT.
	AuthTimeout time.Duration
	// KeepaliveInterval is the interval at which Ping is sent to an
	// authenticated session; a session silent for 2x this interval is
	// terminated.
	KeepaliveInterval time.Duration
	// ReconnectGraceWindow bounds how long a disconnecting session's
	// room membership is held open while its room is Playing.
	ReconnectGraceWindow time.Duration
	// MaxFrameLength bounds a declared frame length; anything larger
	// is a PROTOCOL_VIOLATION before the body is read.
	MaxFrameLength uint32
}

// Dispatcher is the protocol entry point shared by every accepted
// connection.
type Dispatcher struct {
	router Router

	sessions  service.SessionRegistry
	sessionSv *service.SessionService
	roomSv    *service.RoomService
	rooms     service.RoomManager
	reconnect *ReconnectTracker
	authWait  *authTimers

	cfg    Config
	logger *slog.Logger
}

// New wires a Dispatcher and registers every protocol route.
func New(sessions service.SessionRegistry, sessionSv *service.SessionService, roomSv *service.RoomService, rooms service.RoomManager, cfg Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		router:    NewRouter(),
		sessions:  sessions,
		sessionSv: sessionSv,
		roomSv:    roomSv,
		rooms:     rooms,
		authWait:  newAuthTimers(),
		cfg:       cfg,
		logger:    logger,
	}
	d.reconnect = NewReconnectTracker(cfg.ReconnectGraceWindow, d.onReconnectExpired)
	d.registerRoutes()
	return d
}

// MaxFrameLength is the declared-length ceiling the transport layer
// must enforce before reading a frame body.
func (d *Dispatcher) MaxFrameLength() uint32 { return d.cfg.MaxFrameLength }

// KeepaliveInterval is the interval the transport layer should use to
// drive RunKeepalive for each authenticated session.
func (d *Dispatcher) KeepaliveInterval() time.Duration { return d.cfg.KeepaliveInterval }

func (d *Dispatcher) registerRoutes() {
	d.router.Register(wire.TypeHello, handleHello)
	d.router.Register(wire.TypeAuthenticate, handleAuthenticate)
	d.router.Register(wire.TypePong, handlePong)
	d.router.Register(wire.TypeCreateRoom, handleCreateRoom)
	d.router.Register(wire.TypeJoinRoom, handleJoinRoom)
	d.router.Register(wire.TypeLeaveRoom, handleLeaveRoom)
	d.router.Register(wire.TypeSelectChart, handleSelectChart)
	d.router.Register(wire.TypeReady, handleReady)
	d.router.Register(wire.TypeCancelReady, handleCancelReady)
	d.router.Register(wire.TypeSubmitScore, handleSubmitScore)
}

// Dispatch decodes and routes one inbound frame. It never returns an
// error the caller needs to act on beyond logging: fatal outcomes are
// applied directly to sess (an Error frame is relayed and the session
// is closed) rather than propagated, since a dispatch loop has nothing
// further to do with a per-frame error except keep reading the next
// one.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *state.Session, frame wire.RawFrame) {
	sess.Touch()

	if frame.Type == wire.TypeHello && sess.Phase() != state.PhaseAccepted {
		d.fail(sess, wire.NewProtocolError(wire.CodeProtocolViolation, "unexpected hello"))
		return
	}
	if frame.Type != wire.TypeHello && sess.Phase() == state.PhaseAccepted {
		d.fail(sess, wire.NewProtocolError(wire.CodeProtocolViolation, "hello required before any other message"))
		return
	}

	err := d.router.Handle(ctx, d, sess, frame.Type, frame.Payload)
	if err == nil {
		return
	}

	if errors.Is(err, ErrRouteNotFound) {
		d.logger.Warn("unknown message type", "session_id", sess.ID(), "type", fmt.Sprintf("%#02x", frame.Type))
		return
	}

	d.fail(sess, err)
}

// fail relays err to sess as an Error frame and, for fatal codes,
// closes the session.
func (d *Dispatcher) fail(sess *state.Session, err error) {
	var protoErr *wire.ProtocolError
	if !errors.As(err, &protoErr) {
		d.logger.Error("unhandled dispatch error", "session_id", sess.ID(), "error", err)
		protoErr = wire.NewProtocolError(wire.CodeInternal, "internal error")
	}

	_, _ = sess.RelayMessage(wire.TypeError, wire.Error{Code: protoErr.Code, Message: protoErr.Message})

	if wire.IsFatal(protoErr.Code) {
		d.logger.Info("closing session on fatal error", "session_id", sess.ID(), "code", wire.CodeName(protoErr.Code))
		sess.Close()
	}
}

// Disconnect handles transport-level connection loss: a session
// in a Playing room is held in a reconnect grace slot instead of
// immediately recording an abort; every other case tears down
// immediately through the session service.
func (d *Dispatcher) Disconnect(sess *state.Session) {
	user := sess.User()
	if user == nil {
		d.sessionSv.Disconnect(sess)
		return
	}

	roomID, inRoom := d.rooms.RoomForUser(user.ID)
	if inRoom {
		if room, err := d.rooms.Get(roomID); err == nil && room.Snapshot().State == state.Playing {
			d.sessions.Remove(user.ID, sess)
			d.reconnect.Defer(roomID, user.ID)
			d.logger.Info("holding room membership for reconnect", "user_id", user.ID, "room_id", roomID)
			return
		}
	}
	d.sessionSv.Disconnect(sess)
}

func (d *Dispatcher) onReconnectExpired(roomID string, userID uint32) {
	d.rooms.Leave(userID)
	d.logger.Info("reconnect grace window elapsed, recording abort", "user_id", userID, "room_id", roomID)
}
