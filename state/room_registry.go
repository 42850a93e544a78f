package state

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/beatline/syncserver/wire"
)

// ErrRoomNotFound is returned by RoomRegistry lookups for an unknown id.
var ErrRoomNotFound = wire.NewProtocolError(wire.CodeRoomNotFound, "room does not exist")

// RoomRegistry owns the process-wide set of live rooms and enforces
// the single-room-per-user invariant that no individual Room actor can
// see on its own.
type RoomRegistry struct {
	mutex      sync.RWMutex
	rooms      map[string]*Room
	memberRoom map[uint32]string // userID -> roomID, for the invariant check
	logger     *slog.Logger
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry(logger *slog.Logger) *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		memberRoom: make(map[uint32]string),
		logger:     logger,
	}
}

// Create allocates a new room with creator as host, rejecting the call
// if creator is already a member of another room. notify is wired to
// the new room's actor and additionally receives registry-level
// bookkeeping (membership map maintenance, destroy-on-empty cleanup)
// before being forwarded to the caller's own notify.
func (reg *RoomRegistry) Create(name string, capacity uint8, creator Member, notify func(Change)) (*Room, error) {
	reg.mutex.Lock()
	if _, inRoom := reg.memberRoom[creator.UserID]; inRoom {
		reg.mutex.Unlock()
		return nil, ErrAlreadyInRoom
	}
	id := uuid.NewString()
	reg.memberRoom[creator.UserID] = id
	reg.mutex.Unlock()

	room := NewRoom(id, name, capacity, creator, reg.wrapNotify(id, notify))

	reg.mutex.Lock()
	reg.rooms[id] = room
	reg.mutex.Unlock()

	reg.logger.Info("room created", "room_id", id, "host", creator.UserID, "name", name)
	return room, nil
}

// Join adds userID to an existing room, enforcing the single-room
// invariant at the registry level before delegating to the room actor.
// Whether the join bypasses a lock is decided by the room's own
// whitelist, looked up before attempting the join.
func (reg *RoomRegistry) Join(roomID string, m Member) (*Room, error) {
	reg.mutex.Lock()
	if existing, inRoom := reg.memberRoom[m.UserID]; inRoom {
		reg.mutex.Unlock()
		if existing == roomID {
			return reg.Get(roomID)
		}
		return nil, ErrAlreadyInRoom
	}
	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mutex.Unlock()
		return nil, ErrRoomNotFound
	}
	reg.memberRoom[m.UserID] = roomID
	reg.mutex.Unlock()

	whitelisted := room.IsWhitelisted(m.UserID)
	if _, err := room.Join(m, whitelisted); err != nil {
		reg.mutex.Lock()
		delete(reg.memberRoom, m.UserID)
		reg.mutex.Unlock()
		return nil, err
	}
	return room, nil
}

// Leave removes userID from whatever room it currently occupies, a
// no-op if the user is not in any room.
func (reg *RoomRegistry) Leave(userID uint32) {
	reg.mutex.RLock()
	roomID, ok := reg.memberRoom[userID]
	room := reg.rooms[roomID]
	reg.mutex.RUnlock()
	if !ok || room == nil {
		return
	}
	room.Leave(userID)
}

// Get returns the room by id, or ErrRoomNotFound.
func (reg *RoomRegistry) Get(roomID string) (*Room, error) {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	room, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RoomForUser returns the room id a user currently occupies, and
// whether one exists.
func (reg *RoomRegistry) RoomForUser(userID uint32) (string, bool) {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	id, ok := reg.memberRoom[userID]
	return id, ok
}

// List returns a snapshot of every live room, sorted by id, for the
// observer hub and the admin HTTP surface.
func (reg *RoomRegistry) List() []Snapshot {
	reg.mutex.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mutex.RUnlock()

	out := make([]Snapshot, len(rooms))
	for i, room := range rooms {
		out[i] = room.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live rooms.
func (reg *RoomRegistry) Count() int {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return len(reg.rooms)
}

// wrapNotify intercepts every Change emitted by a room so the registry
// can keep memberRoom in sync (kicked/departed users freed, destroyed
// rooms removed) before forwarding to the caller-supplied notify.
func (reg *RoomRegistry) wrapNotify(roomID string, next func(Change)) func(Change) {
	return func(c Change) {
		reg.mutex.Lock()
		for _, uid := range c.KickedUsers {
			if reg.memberRoom[uid] == roomID {
				delete(reg.memberRoom, uid)
			}
		}
		for _, ev := range c.NewEvents {
			if ev.Kind == EventLeaveRoom && reg.memberRoom[ev.UserID] == roomID {
				delete(reg.memberRoom, ev.UserID)
			}
		}
		if c.Destroyed {
			for uid, rid := range reg.memberRoom {
				if rid == roomID {
					delete(reg.memberRoom, uid)
				}
			}
			delete(reg.rooms, roomID)
			reg.logger.Info("room destroyed", "room_id", roomID)
		}
		reg.mutex.Unlock()
		if next != nil {
			next(c)
		}
	}
}
