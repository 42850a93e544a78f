package service

import (
	"log/slog"

	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// RoomService implements every room-mutating client operation (spec
// §4.5, §4.6) and broadcasts the resulting room state to every member
// after each one. A Room's notify callback, supplied at creation time,
// is this service's own broadcast method — the room actor itself never
// touches wire types or sessions.
type RoomService struct {
	sessions SessionRegistry
	rooms    RoomManager
	logger   *slog.Logger
	observer func()
}

// NewRoomService wires a RoomService from its collaborators.
func NewRoomService(sessions SessionRegistry, rooms RoomManager, logger *slog.Logger) *RoomService {
	return &RoomService{sessions: sessions, rooms: rooms, logger: logger}
}

// SetObserver installs a hook invoked after every broadcast, used to
// signal the observer hub that room state has moved. Safe to leave
// unset.
func (s *RoomService) SetObserver(fn func()) {
	s.observer = fn
}

// CreateRoom creates a room with sess's user as host and broadcasts its
// initial state.
func (s *RoomService) CreateRoom(sess *state.Session, name string, capacity uint8) (*state.Room, error) {
	user := sess.User()
	if user == nil {
		return nil, wire.NewProtocolError(wire.CodeUnauthorized, "not authenticated")
	}
	member := state.Member{UserID: user.ID, DisplayName: user.DisplayName, AvatarURL: user.AvatarURL}

	room, err := s.rooms.Create(name, capacity, member, s.Broadcast)
	if err != nil {
		return nil, err
	}
	sess.SetRoomID(room.ID())
	s.Broadcast(state.Change{Room: room.Snapshot()})
	return room, nil
}

// JoinRoom adds sess's user to roomID.
func (s *RoomService) JoinRoom(sess *state.Session, roomID string) (*state.Room, error) {
	user := sess.User()
	if user == nil {
		return nil, wire.NewProtocolError(wire.CodeUnauthorized, "not authenticated")
	}
	member := state.Member{UserID: user.ID, DisplayName: user.DisplayName, AvatarURL: user.AvatarURL}

	room, err := s.rooms.Join(roomID, member)
	if err != nil {
		return nil, err
	}
	sess.SetRoomID(room.ID())
	// Join's mutation already ran through the room's actor, which
	// invoked s.Broadcast (wired as its notify callback) with the full
	// Change; no separate broadcast is needed here.
	return room, nil
}

// LeaveRoom removes sess's user from its current room, a no-op if it
// isn't in one.
func (s *RoomService) LeaveRoom(sess *state.Session) {
	user := sess.User()
	if user == nil {
		return
	}
	s.rooms.Leave(user.ID)
	sess.SetRoomID("")
}

// SelectChart, Ready, CancelReady, SubmitScore, and NextChart look up
// sess's current room and delegate to the matching Room method,
// rejecting the call with NOT_IN_ROOM if sess isn't in one.

func (s *RoomService) currentRoom(sess *state.Session) (*state.Room, error) {
	roomID := sess.RoomID()
	if roomID == "" {
		return nil, state.ErrNotInRoom
	}
	return s.rooms.Get(roomID)
}

func (s *RoomService) SelectChart(sess *state.Session, chart wire.ChartDescriptor) error {
	user := sess.User()
	room, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	_, err = room.SelectChart(user.ID, chart)
	return err
}

func (s *RoomService) Ready(sess *state.Session) error {
	user := sess.User()
	room, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	_, err = room.Ready(user.ID)
	return err
}

func (s *RoomService) CancelReady(sess *state.Session) error {
	user := sess.User()
	room, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	_, err = room.CancelReady(user.ID)
	return err
}

func (s *RoomService) SubmitScore(sess *state.Session, rec state.ScoreRecord) error {
	user := sess.User()
	room, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	_, err = room.SubmitScore(user.ID, rec)
	return err
}

// NextChart advances a room out of Results. Host-only.
func (s *RoomService) NextChart(sess *state.Session, chart wire.ChartDescriptor) error {
	user := sess.User()
	room, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	if _, err := room.NextChart(user.ID); err != nil {
		return err
	}
	_, err = room.SelectChart(user.ID, chart)
	return err
}

// Broadcast translates a room Change into outbound frames and relays
// them to every affected session. Wired as every Room's notify
// callback, so it runs inside that room's serialized mutation order.
func (s *RoomService) Broadcast(c state.Change) {
	if c.Room.ID == "" && len(c.Room.Members) == 0 {
		return
	}

	update := snapshotToWire(c.Room)
	for _, m := range c.Room.Members {
		if sess := s.sessions.Get(m.UserID); sess != nil {
			if _, err := sess.RelayMessage(wire.TypeRoomStateUpdate, update); err != nil {
				s.logger.Warn("failed to relay room state", "user_id", m.UserID, "error", err)
			}
		}
	}

	if c.StartPlaying && c.Room.SelectedChart != nil {
		start := wire.StartPlaying{Chart: *c.Room.SelectedChart}
		for _, m := range c.Room.Members {
			if sess := s.sessions.Get(m.UserID); sess != nil {
				_, _ = sess.RelayMessage(wire.TypeStartPlaying, start)
			}
		}
	}

	if len(c.Results) > 0 {
		end := wire.GameEnd{Results: make([]wire.ScoreResult, len(c.Results))}
		for i, rec := range c.Results {
			end.Results[i] = scoreRecordToWire(rec)
		}
		for _, m := range c.Room.Members {
			if sess := s.sessions.Get(m.UserID); sess != nil {
				_, _ = sess.RelayMessage(wire.TypeGameEnd, end)
			}
		}
	}

	for _, uid := range c.KickedUsers {
		if sess := s.sessions.Get(uid); sess != nil {
			_, _ = sess.RelayMessage(wire.TypeKicked, wire.Kicked{Reason: "removed from room"})
			sess.SetRoomID("")
		}
	}

	if s.observer != nil {
		s.observer()
	}
}

func snapshotToWire(snap state.Snapshot) wire.RoomStateUpdate {
	members := make([]wire.MemberState, len(snap.Members))
	for i, m := range snap.Members {
		members[i] = wire.MemberState{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
			Ready:       boolToUint8(m.Ready),
		}
	}
	return wire.RoomStateUpdate{
		RoomID:     snap.ID,
		Name:       snap.Name,
		HostUserID: snap.HostUserID,
		State:      uint8(snap.State),
		Capacity:   snap.Capacity,
		Locked:     boolToUint8(snap.Locked),
		CycleMode:  boolToUint8(snap.CycleMode),
		Members:    members,
		Chart:      snap.SelectedChart,
	}
}

func scoreRecordToWire(rec state.ScoreRecord) wire.ScoreResult {
	return wire.ScoreResult{
		UserID:   rec.UserID,
		Aborted:  boolToUint8(rec.Aborted),
		Score:    rec.Score,
		Accuracy: rec.Accuracy,
		MaxCombo: rec.MaxCombo,
		Perfect:  rec.Perfect,
		Good:     rec.Good,
		Bad:      rec.Bad,
		Miss:     rec.Miss,
	}
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
