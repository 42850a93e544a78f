package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

func newTestAdminService(audit AuditRecorder) (*AdminService, *state.SessionManager, *state.RoomRegistry, *state.BanRegistry) {
	logger := testLogger()
	sessions := state.NewSessionManager(logger)
	rooms := state.NewRoomRegistry(logger)
	bans := state.NewBanRegistry(nil)
	return NewAdminService(sessions, rooms, bans, audit, logger), sessions, rooms, bans
}

func TestAdminService_KickPlayer_RemovesFromRoomAndClosesSession(t *testing.T) {
	audit := &fakeAudit{}
	svc, sessions, rooms, _ := newTestAdminService(audit)

	host := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	_, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)
	host.SetRoomID(mustRoomForUser(t, rooms, 1))

	require.NoError(t, svc.KickPlayer(context.Background(), "op", 1, "griefing"))

	_, inRoom := rooms.RoomForUser(1)
	assert.False(t, inRoom)
	assert.True(t, host.IsClosed())
	require.Len(t, audit.records, 1)
	assert.Equal(t, "kick_player", audit.records[0].action)
}

func TestAdminService_ForceStart_BypassesQuorum(t *testing.T) {
	svc, sessions, rooms, _ := newTestAdminService(nil)
	host := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)
	host.SetRoomID(room.ID())
	guest := authenticatedSession(t, sessions, "sess-2", identity.User{ID: 2, DisplayName: "bob"})
	_, err = rooms.Join(room.ID(), state.Member{UserID: 2})
	require.NoError(t, err)
	guest.SetRoomID(room.ID())

	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "chart-1"})
	require.NoError(t, err)

	require.NoError(t, svc.ForceStart(context.Background(), "op", room.ID()))
	assert.Equal(t, state.Playing, room.Snapshot().State)
}

func TestAdminService_ForceStart_UnknownRoom(t *testing.T) {
	svc, _, _, _ := newTestAdminService(nil)
	err := svc.ForceStart(context.Background(), "op", "missing")
	assert.ErrorIs(t, err, state.ErrRoomNotFound)
}

func TestAdminService_ToggleLock_SetsRoomLocked(t *testing.T) {
	svc, _, rooms, _ := newTestAdminService(nil)
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.ToggleLock(context.Background(), "op", room.ID(), true))
	assert.True(t, room.Snapshot().Locked)
}

func TestAdminService_SetMaxPlayers_RejectsBelowCurrentMembership(t *testing.T) {
	svc, sessions, rooms, _ := newTestAdminService(nil)
	host := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)
	host.SetRoomID(room.ID())
	_, err = rooms.Join(room.ID(), state.Member{UserID: 2})
	require.NoError(t, err)

	err = svc.SetMaxPlayers(context.Background(), "op", room.ID(), 1)
	assert.Error(t, err)
}

func TestAdminService_CloseRoom_KicksEveryMember(t *testing.T) {
	svc, sessions, rooms, _ := newTestAdminService(nil)
	host := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)
	host.SetRoomID(room.ID())
	guest := authenticatedSession(t, sessions, "sess-2", identity.User{ID: 2, DisplayName: "bob"})
	_, err = rooms.Join(room.ID(), state.Member{UserID: 2})
	require.NoError(t, err)
	guest.SetRoomID(room.ID())

	require.NoError(t, svc.CloseRoom(context.Background(), "op", room.ID()))

	_, ok1 := rooms.RoomForUser(1)
	_, ok2 := rooms.RoomForUser(2)
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestAdminService_SetRoomBlacklist_ReplacesAndReports(t *testing.T) {
	svc, _, rooms, _ := newTestAdminService(nil)
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetRoomBlacklist(context.Background(), "op", room.ID(), []uint32{9, 10}))
	list, err := svc.RoomBlacklist(room.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{9, 10}, list)
}

func TestAdminService_Ban_ClosesSessionAndRecordsAudit(t *testing.T) {
	audit := &fakeAudit{}
	svc, sessions, _, bans := newTestAdminService(audit)
	sess := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 5, DisplayName: "carol"})

	require.NoError(t, svc.Ban(context.Background(), "op", state.BanKindUserID, "5", "cheating", 0))

	assert.True(t, sess.IsClosed())
	_, banned := bans.Check(5, "")
	assert.True(t, banned)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "ban", audit.records[0].action)
}

func TestAdminService_Ban_ByIPDoesNotRequireAUserID(t *testing.T) {
	svc, _, _, bans := newTestAdminService(nil)

	require.NoError(t, svc.Ban(context.Background(), "op", state.BanKindIP, "203.0.113.9", "abuse", 0))

	_, banned := bans.Check(0, "203.0.113.9:4000")
	assert.True(t, banned)
}

func TestAdminService_Unban_LiftsBan(t *testing.T) {
	svc, _, _, bans := newTestAdminService(nil)
	require.NoError(t, bans.Add(state.BanEntry{Kind: state.BanKindUserID, Target: "8", Reason: "reason"}))

	svc.Unban(context.Background(), "op", state.BanKindUserID, "8")
	_, banned := bans.Check(8, "")
	assert.False(t, banned)
}

func TestAdminService_BanWhitelist_RoundTrips(t *testing.T) {
	svc, _, _, _ := newTestAdminService(nil)
	svc.SetBanWhitelist(context.Background(), "op", []uint32{1, 2, 3}, []string{"203.0.113.1"})
	ids, ips := svc.BanWhitelist()
	assert.ElementsMatch(t, []uint32{1, 2, 3}, ids)
	assert.ElementsMatch(t, []string{"203.0.113.1"}, ips)
}

func TestAdminService_AllPlayers_ReportsRoomMembership(t *testing.T) {
	svc, sessions, rooms, _ := newTestAdminService(nil)
	host := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	room, err := rooms.Create("room", 4, state.Member{UserID: 1}, nil)
	require.NoError(t, err)
	host.SetRoomID(room.ID())
	_ = authenticatedSession(t, sessions, "sess-2", identity.User{ID: 2, DisplayName: "bob"})

	players := svc.AllPlayers()
	require.Len(t, players, 2)

	byID := make(map[uint32]PlayerSummary, len(players))
	for _, p := range players {
		byID[p.UserID] = p
	}
	assert.Equal(t, room.ID(), byID[1].RoomID)
	assert.Equal(t, "", byID[2].RoomID)
}

func TestAdminService_ServerMessage_RelaysToEverySession(t *testing.T) {
	svc, sessions, _, _ := newTestAdminService(nil)
	a := authenticatedSession(t, sessions, "sess-1", identity.User{ID: 1, DisplayName: "alice"})
	b := authenticatedSession(t, sessions, "sess-2", identity.User{ID: 2, DisplayName: "bob"})

	svc.ServerMessage(context.Background(), "op", "server restarting soon")

	msgA := <-a.Outbound()
	msgB := <-b.Outbound()
	assert.Equal(t, wire.TypeServerMessage, msgA.Type)
	assert.Equal(t, wire.TypeServerMessage, msgB.Type)
}
