package state

import (
	"sort"
	"time"

	"github.com/beatline/syncserver/wire"
)

// Lifecycle is the room-global state machine position.
type Lifecycle int

const (
	Selecting Lifecycle = iota
	WaitingForReady
	Playing
	Results
)

func (l Lifecycle) String() string {
	switch l {
	case Selecting:
		return "selecting"
	case WaitingForReady:
		return "waiting_for_ready"
	case Playing:
		return "playing"
	case Results:
		return "results"
	default:
		return "unknown"
	}
}

// Member is one room participant, ordered by join order within Room.
type Member struct {
	UserID      uint32
	DisplayName string
	AvatarURL   string
	JoinedAt    time.Time
	Ready       bool
}

// inboxSize bounds the room actor's mailbox. A room that cannot drain
// its mailbox fast enough applies backpressure to callers rather than
// growing unbounded.
const inboxSize = 256

// Change describes what happened as the result of one serialized room
// mutation, in enough detail for a caller (RoomService.Broadcast) to build
// and send outbound frames without reaching back into room internals.
type Change struct {
	Room         Snapshot
	NewEvents    []ChatEvent
	KickedUsers  []uint32
	Transitioned bool
	StartPlaying bool
	Results      []ScoreRecord
	Destroyed    bool
}

// Snapshot is a read-only projection of room state, safe to hold onto
// after the actor has moved on.
type Snapshot struct {
	ID            string
	Name          string
	HostUserID    uint32
	State         Lifecycle
	Capacity      uint8
	Locked        bool
	CycleMode     bool
	Members       []Member
	SelectedChart *wire.ChartDescriptor
	LastGameChart *wire.ChartDescriptor
}

// Room is a single-writer actor: every mutation is processed serially
// by one goroutine reading from a bounded mailbox, giving all observers
// of a room the same total order of events.
type Room struct {
	id string

	inbox  chan func(*roomState)
	stopCh chan struct{}
	doneCh chan struct{}

	notify func(Change)
	now    func() time.Time
}

type roomState struct {
	name       string
	hostUserID uint32
	state      Lifecycle
	capacity   uint8
	locked     bool
	cycleMode  bool

	members []*Member // ordered by join order

	blacklist map[uint32]struct{}
	whitelist map[uint32]struct{}

	selectedChart *wire.ChartDescriptor
	lastGameChart *wire.ChartDescriptor

	scores map[uint32]ScoreRecord

	chat *ChatRingBuffer
}

// NewRoom creates and starts a room actor with creator as its sole
// member and host. notify is invoked, from the actor's own goroutine,
// after every mutation — it must not block.
func NewRoom(id, name string, capacity uint8, creator Member, notify func(Change)) *Room {
	r := &Room{
		id:     id,
		inbox:  make(chan func(*roomState), inboxSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		notify: notify,
		now:    time.Now,
	}

	rs := &roomState{
		name:       name,
		hostUserID: creator.UserID,
		state:      Selecting,
		capacity:   capacity,
		members:    []*Member{&creator},
		blacklist:  make(map[uint32]struct{}),
		whitelist:  make(map[uint32]struct{}),
		scores:     make(map[uint32]ScoreRecord),
		chat:       NewChatRingBuffer(),
	}
	rs.chat.Append(ChatEvent{Kind: EventCreateRoom, At: r.now(), UserID: creator.UserID})

	go r.run(rs)
	return r
}

func (r *Room) run(rs *roomState) {
	defer close(r.doneCh)
	for {
		select {
		case cmd := <-r.inbox:
			cmd(rs)
		case <-r.stopCh:
			// run every command already queued, until the mailbox is
			// empty, so callers blocked on exec() don't hang during
			// shutdown.
			for {
				select {
				case cmd := <-r.inbox:
					cmd(rs)
				default:
					return
				}
			}
		}
	}
}

// ID returns the room's id.
func (r *Room) ID() string { return r.id }

// exec submits fn to the actor and blocks until it has run, returning
// the Change fn produced.
func (r *Room) exec(fn func(*roomState) Change) Change {
	done := make(chan Change, 1)
	select {
	case r.inbox <- func(rs *roomState) { done <- fn(rs) }:
	case <-r.doneCh:
		return Change{}
	}
	select {
	case c := <-done:
		if r.notify != nil {
			r.notify(c)
		}
		return c
	case <-r.doneCh:
		return Change{}
	}
}

// Stop drains the mailbox and terminates the actor goroutine.
func (r *Room) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

var (
	ErrRoomLocked      = wire.NewProtocolError(wire.CodeRoomLocked, "room is locked")
	ErrRoomFull        = wire.NewProtocolError(wire.CodeRoomFull, "room is at capacity")
	ErrRoomBlacklisted = wire.NewProtocolError(wire.CodeRoomBlacklisted, "user is blacklisted from this room")
	ErrAlreadyInRoom   = wire.NewProtocolError(wire.CodeAlreadyInRoom, "user is already in a room")
	ErrNotHost         = wire.NewProtocolError(wire.CodeNotHost, "only the host may perform this action")
	ErrNotInRoom       = wire.NewProtocolError(wire.CodeNotInRoom, "user is not a member of this room")
	ErrRoomWrongState  = wire.NewProtocolError(wire.CodeRoomWrongState, "room is not in a valid state for this action")
)

// Join adds m as a member; whitelisted lets the join bypass the room's
// lock. Membership of a different room is not checked here — the
// registry enforces the single-room invariant since it is the only
// layer that can see a user's current room across the whole process.
func (r *Room) Join(m Member, whitelisted bool) (Change, error) {
	var joinErr error
	c := r.exec(func(rs *roomState) Change {
		if rs.memberIndex(m.UserID) >= 0 {
			// rejoin of a current player during Playing/Results is
			// idempotent membership resume.
			return Change{Room: rs.snapshot(r.id)}
		}
		if rs.locked && !whitelisted {
			joinErr = ErrRoomLocked
			return Change{}
		}
		if _, blacklisted := rs.blacklist[m.UserID]; blacklisted {
			joinErr = ErrRoomBlacklisted
			return Change{}
		}
		if len(rs.members) >= int(rs.capacity) {
			joinErr = ErrRoomFull
			return Change{}
		}
		if rs.state == Playing || rs.state == Results {
			joinErr = ErrRoomWrongState
			return Change{}
		}

		mCopy := m
		mCopy.JoinedAt = r.now()
		rs.members = append(rs.members, &mCopy)
		ev := ChatEvent{Kind: EventJoinRoom, At: r.now(), UserID: m.UserID}
		rs.chat.Append(ev)
		return Change{Room: rs.snapshot(r.id), NewEvents: []ChatEvent{ev}}
	})
	return c, joinErr
}

// Leave removes userID from the room. Always permitted. Host
// migration, all-ready transition, and abort-on-leave-during-play are
// all handled here.
func (r *Room) Leave(userID uint32) Change {
	return r.exec(func(rs *roomState) Change {
		idx := rs.memberIndex(userID)
		if idx < 0 {
			return Change{Room: rs.snapshot(r.id)}
		}

		rs.members = append(rs.members[:idx], rs.members[idx+1:]...)
		events := []ChatEvent{{Kind: EventLeaveRoom, At: r.now(), UserID: userID}}
		rs.chat.Append(events[0])

		if len(rs.members) == 0 {
			return Change{Room: rs.snapshot(r.id), NewEvents: events, Destroyed: true}
		}

		if rs.hostUserID == userID {
			rs.hostUserID = rs.members[0].UserID // longest-present remaining member
			ev := ChatEvent{Kind: EventNewHost, At: r.now(), UserID: rs.hostUserID}
			rs.chat.Append(ev)
			events = append(events, ev)
		}

		if rs.state == Playing {
			if _, already := rs.scores[userID]; !already {
				rs.scores[userID] = ScoreRecord{UserID: userID, Aborted: true, SubmittedAt: r.now()}
				ev := ChatEvent{Kind: EventAbort, At: r.now(), UserID: userID}
				rs.chat.Append(ev)
				events = append(events, ev)
			}
			if rs.allSubmitted() {
				results := rs.transitionToResults(r.now())
				return Change{Room: rs.snapshot(r.id), NewEvents: events, Results: results}
			}
		}

		if rs.state == WaitingForReady && rs.allReady() {
			ev := rs.transitionToPlaying(r.now())
			events = append(events, ev)
			return Change{Room: rs.snapshot(r.id), NewEvents: events, StartPlaying: true}
		}

		return Change{Room: rs.snapshot(r.id), NewEvents: events}
	})
}

// SelectChart replaces the selected chart and clears ready flags.
// Host-only, Selecting state only.
func (r *Room) SelectChart(userID uint32, chart wire.ChartDescriptor) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		if rs.hostUserID != userID {
			outErr = ErrNotHost
			return Change{}
		}
		if rs.state != Selecting {
			outErr = ErrRoomWrongState
			return Change{}
		}
		rs.selectedChart = &chart
		rs.state = WaitingForReady
		for _, m := range rs.members {
			m.Ready = false
		}
		ev := ChatEvent{Kind: EventSelectChart, At: r.now(), UserID: userID, Text: chart.Name}
		rs.chat.Append(ev)
		events := []ChatEvent{ev}

		if rs.allReady() {
			startEv := rs.transitionToPlaying(r.now())
			events = append(events, startEv)
			return Change{Room: rs.snapshot(r.id), NewEvents: events, StartPlaying: true}
		}
		return Change{Room: rs.snapshot(r.id), NewEvents: events}
	})
	return c, outErr
}

// Ready marks userID ready. Permitted in WaitingForReady. The host is
// implicitly ready: quorum is computed over non-host members only.
func (r *Room) Ready(userID uint32) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		idx := rs.memberIndex(userID)
		if idx < 0 {
			outErr = ErrNotInRoom
			return Change{}
		}
		if rs.state != WaitingForReady {
			outErr = ErrRoomWrongState
			return Change{}
		}
		rs.members[idx].Ready = true
		ev := ChatEvent{Kind: EventReady, At: r.now(), UserID: userID}
		rs.chat.Append(ev)
		events := []ChatEvent{ev}

		if rs.allReady() {
			startEv := rs.transitionToPlaying(r.now())
			events = append(events, startEv)
			return Change{Room: rs.snapshot(r.id), NewEvents: events, StartPlaying: true}
		}
		return Change{Room: rs.snapshot(r.id), NewEvents: events}
	})
	return c, outErr
}

// CancelReady withdraws a prior Ready.
func (r *Room) CancelReady(userID uint32) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		idx := rs.memberIndex(userID)
		if idx < 0 {
			outErr = ErrNotInRoom
			return Change{}
		}
		if rs.state != WaitingForReady {
			outErr = ErrRoomWrongState
			return Change{}
		}
		rs.members[idx].Ready = false
		ev := ChatEvent{Kind: EventCancelReady, At: r.now(), UserID: userID}
		rs.chat.Append(ev)
		return Change{Room: rs.snapshot(r.id), NewEvents: []ChatEvent{ev}}
	})
	return c, outErr
}

// ForceStart bypasses the ready quorum (admin force-start). Permitted
// only from WaitingForReady.
func (r *Room) ForceStart() (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		if rs.state != WaitingForReady {
			outErr = ErrRoomWrongState
			return Change{}
		}
		ev := rs.transitionToPlaying(r.now())
		return Change{Room: rs.snapshot(r.id), NewEvents: []ChatEvent{ev}, StartPlaying: true}
	})
	return c, outErr
}

// SubmitScore records userID's outcome for the current game. Permitted
// in Playing only. First submission wins; later ones are ignored.
func (r *Room) SubmitScore(userID uint32, rec ScoreRecord) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		if rs.memberIndex(userID) < 0 {
			outErr = ErrNotInRoom
			return Change{}
		}
		if rs.state != Playing {
			outErr = ErrRoomWrongState
			return Change{}
		}
		if _, already := rs.scores[userID]; already {
			return Change{Room: rs.snapshot(r.id)}
		}
		rec.UserID = userID
		rec.SubmittedAt = r.now()
		rs.scores[userID] = rec
		ev := ChatEvent{Kind: EventPlayed, At: r.now(), UserID: userID}
		rs.chat.Append(ev)
		events := []ChatEvent{ev}

		if rs.allSubmitted() {
			results := rs.transitionToResults(r.now())
			return Change{Room: rs.snapshot(r.id), NewEvents: events, Results: results}
		}
		return Change{Room: rs.snapshot(r.id), NewEvents: events}
	})
	return c, outErr
}

// NextChart advances Results back to Selecting. The prior chart moves
// to LastGameChart, the selection is cleared and ready flags reset; in
// cycle mode the host also rotates to the next member in join order.
// No new chart is chosen here.
func (r *Room) NextChart(userID uint32) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		if rs.hostUserID != userID {
			outErr = ErrNotHost
			return Change{}
		}
		if rs.state != Results {
			outErr = ErrRoomWrongState
			return Change{}
		}
		rs.advanceToSelecting(r.now())
		return Change{Room: rs.snapshot(r.id)}
	})
	return c, outErr
}

// SetLocked toggles the locked flag, emitting a LockRoom chat event.
func (r *Room) SetLocked(locked bool) {
	r.exec(func(rs *roomState) Change {
		rs.locked = locked
		ev := ChatEvent{Kind: EventLockRoom, At: r.now()}
		rs.chat.Append(ev)
		return Change{Room: rs.snapshot(r.id), NewEvents: []ChatEvent{ev}}
	})
}

// SetCycleMode toggles cycle mode, emitting a CycleRoom chat event.
func (r *Room) SetCycleMode(on bool) {
	r.exec(func(rs *roomState) Change {
		rs.cycleMode = on
		ev := ChatEvent{Kind: EventCycleRoom, At: r.now()}
		rs.chat.Append(ev)
		return Change{Room: rs.snapshot(r.id), NewEvents: []ChatEvent{ev}}
	})
}

// SetCapacity changes the room's max-player capacity. Rejects a
// capacity below the current member count.
func (r *Room) SetCapacity(capacity uint8) (Change, error) {
	var outErr error
	c := r.exec(func(rs *roomState) Change {
		if int(capacity) < len(rs.members) {
			outErr = ErrRoomWrongState
			return Change{}
		}
		rs.capacity = capacity
		return Change{Room: rs.snapshot(r.id)}
	})
	return c, outErr
}

// SetBlacklist replaces the room's blacklist. Matching current members
// are removed as kicks.
func (r *Room) SetBlacklist(ids []uint32) Change {
	return r.exec(func(rs *roomState) Change {
		rs.blacklist = toSet(ids)
		var kicked []uint32
		var events []ChatEvent
		for _, id := range ids {
			if idx := rs.memberIndex(id); idx >= 0 {
				rs.members = append(rs.members[:idx], rs.members[idx+1:]...)
				kicked = append(kicked, id)
				events = append(events, ChatEvent{Kind: EventLeaveRoom, At: r.now(), UserID: id})
			}
		}
		if len(rs.members) == 0 {
			return Change{Room: rs.snapshot(r.id), NewEvents: events, KickedUsers: kicked, Destroyed: true}
		}
		return Change{Room: rs.snapshot(r.id), NewEvents: events, KickedUsers: kicked}
	})
}

// SetWhitelist replaces the room's whitelist. If the room is locked,
// non-whitelisted members are removed.
func (r *Room) SetWhitelist(ids []uint32) Change {
	return r.exec(func(rs *roomState) Change {
		rs.whitelist = toSet(ids)
		if !rs.locked {
			return Change{Room: rs.snapshot(r.id)}
		}
		var kicked []uint32
		var events []ChatEvent
		remaining := rs.members[:0]
		for _, m := range rs.members {
			if _, ok := rs.whitelist[m.UserID]; ok {
				remaining = append(remaining, m)
				continue
			}
			kicked = append(kicked, m.UserID)
			events = append(events, ChatEvent{Kind: EventLeaveRoom, At: r.now(), UserID: m.UserID})
		}
		rs.members = remaining
		if len(rs.members) == 0 {
			return Change{Room: rs.snapshot(r.id), NewEvents: events, KickedUsers: kicked, Destroyed: true}
		}
		return Change{Room: rs.snapshot(r.id), NewEvents: events, KickedUsers: kicked}
	})
}

// Kick forcibly removes userID (admin kick), sharing Leave's semantics.
func (r *Room) Kick(userID uint32) Change {
	c := r.Leave(userID)
	c.KickedUsers = append(c.KickedUsers, userID)
	return c
}

// Blacklist returns the room's current blacklist.
func (r *Room) Blacklist() []uint32 {
	var out []uint32
	r.exec(func(rs *roomState) Change {
		out = setToSlice(rs.blacklist)
		return Change{}
	})
	return out
}

// Whitelist returns the room's current whitelist.
func (r *Room) Whitelist() []uint32 {
	var out []uint32
	r.exec(func(rs *roomState) Change {
		out = setToSlice(rs.whitelist)
		return Change{}
	})
	return out
}

func setToSlice(s map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// IsWhitelisted reports whether userID bypasses the lock.
func (r *Room) IsWhitelisted(userID uint32) bool {
	var whitelisted bool
	r.exec(func(rs *roomState) Change {
		_, whitelisted = rs.whitelist[userID]
		return Change{}
	})
	return whitelisted
}

// Snapshot returns a point-in-time read of room state.
func (r *Room) Snapshot() Snapshot {
	return r.exec(func(rs *roomState) Change {
		return Change{Room: rs.snapshot(r.id)}
	}).Room
}

// ChatEvents returns a snapshot of the room's chat buffer, for
// newly-joined client catch-up.
func (r *Room) ChatEvents() []ChatEvent {
	var events []ChatEvent
	r.exec(func(rs *roomState) Change {
		events = rs.chat.Events()
		return Change{}
	})
	return events
}

func toSet(ids []uint32) map[uint32]struct{} {
	s := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (rs *roomState) memberIndex(userID uint32) int {
	for i, m := range rs.members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

func (rs *roomState) allReady() bool {
	for _, m := range rs.members {
		if m.UserID == rs.hostUserID {
			continue // host is implicitly ready
		}
		if !m.Ready {
			return false
		}
	}
	return true
}

func (rs *roomState) allSubmitted() bool {
	for _, m := range rs.members {
		if _, ok := rs.scores[m.UserID]; !ok {
			return false
		}
	}
	return true
}

func (rs *roomState) transitionToPlaying(now time.Time) ChatEvent {
	rs.state = Playing
	rs.scores = make(map[uint32]ScoreRecord)
	return ChatEvent{Kind: EventStartPlaying, At: now}
}

func (rs *roomState) transitionToResults(now time.Time) []ScoreRecord {
	rs.state = Results
	records := make([]ScoreRecord, 0, len(rs.scores))
	for _, rec := range rs.scores {
		records = append(records, rec)
	}
	ranked := RankResults(records)
	rs.chat.Append(ChatEvent{Kind: EventGameEnd, At: now})
	return ranked
}

func (rs *roomState) advanceToSelecting(now time.Time) {
	rs.lastGameChart = rs.selectedChart
	rs.selectedChart = nil
	rs.state = Selecting
	for _, m := range rs.members {
		m.Ready = false
	}
	if rs.cycleMode && len(rs.members) > 0 {
		sorted := append([]*Member{}, rs.members...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].JoinedAt.Before(sorted[j].JoinedAt) })
		for i, m := range sorted {
			if m.UserID == rs.hostUserID {
				rs.hostUserID = sorted[(i+1)%len(sorted)].UserID
				break
			}
		}
	}
}

func (rs *roomState) snapshot(id string) Snapshot {
	members := make([]Member, len(rs.members))
	for i, m := range rs.members {
		members[i] = *m
	}
	return Snapshot{
		ID:            id,
		Name:          rs.name,
		HostUserID:    rs.hostUserID,
		State:         rs.state,
		Capacity:      rs.capacity,
		Locked:        rs.locked,
		CycleMode:     rs.cycleMode,
		Members:       members,
		SelectedChart: rs.selectedChart,
		LastGameChart: rs.lastGameChart,
	}
}
