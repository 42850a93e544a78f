package dispatcher

import (
	"context"

	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

func decode[T any](payload []byte) (T, error) {
	var msg T
	err := wire.DecodeInto(wire.RawFrame{Payload: payload}, &msg)
	return msg, err
}

func handleHello(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	msg, err := decode[wire.Hello](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed hello")
	}
	if msg.ProtocolVersion != wire.ProtocolVersion {
		return wire.NewProtocolError(wire.CodeUnsupportedVersion, "unsupported protocol version")
	}
	sess.SetPhase(state.PhaseAwaitingAuth)
	d.authWait.arm(d, sess)
	return nil
}

func handleAuthenticate(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if sess.Phase() != state.PhaseAwaitingAuth {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "authenticate before hello")
	}
	msg, err := decode[wire.Authenticate](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed authenticate")
	}

	user, err := d.sessionSv.Authenticate(ctx, sess, msg.Token)
	if err != nil {
		return err
	}
	d.authWait.cancel(sess.ID())

	if roomID, ok := d.rooms.RoomForUser(user.ID); ok {
		d.reconnect.Cancel(roomID, user.ID)
		sess.SetRoomID(roomID)
	}

	_, err = sess.RelayMessage(wire.TypeAuthenticateResult, wire.AuthenticateResult{
		OK:          1,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	})
	return err
}

func handlePong(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	// sess.Touch() already ran in Dispatch; Pong carries no payload of
	// its own significance beyond resetting the keepalive deadline.
	return nil
}

func handleCreateRoom(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	msg, err := decode[wire.CreateRoom](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed create_room")
	}
	_, err = d.roomSv.CreateRoom(sess, msg.Name, msg.Capacity)
	return err
}

func handleJoinRoom(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	msg, err := decode[wire.JoinRoom](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed join_room")
	}
	_, err = d.roomSv.JoinRoom(sess, msg.RoomID)
	return err
}

func handleLeaveRoom(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	d.roomSv.LeaveRoom(sess)
	return nil
}

// handleSelectChart serves both "select chart" (Selecting state) and
// "advance to next chart" (Results state) since the wire protocol
// reuses SelectChart's payload shape for the Results -> next chart
// transition.
func handleSelectChart(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	msg, err := decode[wire.SelectChart](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed select_chart")
	}

	roomID := sess.RoomID()
	if roomID == "" {
		return state.ErrNotInRoom
	}
	room, err := d.rooms.Get(roomID)
	if err != nil {
		return err
	}

	if room.Snapshot().State == state.Results {
		return d.roomSv.NextChart(sess, msg.Chart)
	}
	return d.roomSv.SelectChart(sess, msg.Chart)
}

func handleReady(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	return d.roomSv.Ready(sess)
}

func handleCancelReady(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	return d.roomSv.CancelReady(sess)
}

func handleSubmitScore(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error {
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	msg, err := decode[wire.SubmitScore](payload)
	if err != nil {
		return wire.NewProtocolError(wire.CodeProtocolViolation, "malformed submit_score")
	}

	user := sess.User()
	rec := state.ScoreRecord{
		UserID:   user.ID,
		Score:    msg.Score,
		Accuracy: msg.Accuracy,
		MaxCombo: msg.MaxCombo,
		Perfect:  msg.Perfect,
		Good:     msg.Good,
		Bad:      msg.Bad,
		Miss:     msg.Miss,
	}
	return d.roomSv.SubmitScore(sess, rec)
}

func requireAuthenticated(sess *state.Session) error {
	if sess.User() == nil {
		return wire.NewProtocolError(wire.CodeUnauthorized, "not authenticated")
	}
	return nil
}
