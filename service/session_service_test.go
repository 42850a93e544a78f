package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResolver struct {
	user identity.User
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, token string) (identity.User, error) {
	return f.user, f.err
}

type auditRecord struct {
	action, actor, detail string
	targetUserID          uint32
}

type fakeAudit struct {
	records []auditRecord
}

func (f *fakeAudit) Record(ctx context.Context, action, actor string, targetUserID uint32, detail string) error {
	f.records = append(f.records, auditRecord{action: action, actor: actor, targetUserID: targetUserID, detail: detail})
	return nil
}

func newTestSessionService(resolver IdentityResolver, audit AuditRecorder) (*SessionService, *state.SessionManager, *state.RoomRegistry, *state.BanRegistry) {
	logger := testLogger()
	sessions := state.NewSessionManager(logger)
	rooms := state.NewRoomRegistry(logger)
	bans := state.NewBanRegistry(nil)
	return NewSessionService(sessions, rooms, bans, resolver, audit, logger), sessions, rooms, bans
}

func TestSessionService_Authenticate_Success(t *testing.T) {
	user := identity.User{ID: 42, DisplayName: "alice", AvatarURL: "https://cdn/a.png"}
	svc, sessions, _, _ := newTestSessionService(&fakeResolver{user: user}, nil)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	got, err := svc.Authenticate(context.Background(), sess, "tok-A")
	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.Equal(t, &user, sess.User())
	assert.Same(t, sess, sessions.Get(42))
}

func TestSessionService_Authenticate_RejectsBannedUser(t *testing.T) {
	user := identity.User{ID: 7, DisplayName: "bob"}
	svc, sessions, _, bans := newTestSessionService(&fakeResolver{user: user}, nil)
	require.NoError(t, bans.Add(state.BanEntry{Kind: state.BanKindUserID, Target: "7", Reason: "cheating"}))

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	_, err := svc.Authenticate(context.Background(), sess, "tok-B")

	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, wire.CodeBanned, protoErr.Code)
	assert.Nil(t, sessions.Get(7))
}

func TestSessionService_Authenticate_RejectsBannedIP(t *testing.T) {
	user := identity.User{ID: 77, DisplayName: "eve"}
	svc, sessions, _, bans := newTestSessionService(&fakeResolver{user: user}, nil)
	require.NoError(t, bans.Add(state.BanEntry{Kind: state.BanKindIP, Target: "203.0.113.5", Reason: "abuse"}))

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	_, err := svc.Authenticate(context.Background(), sess, "tok-ip")

	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, wire.CodeBanned, protoErr.Code)
	assert.Nil(t, sessions.Get(77))
}

func TestSessionService_Authenticate_ClassifiesIdentityError(t *testing.T) {
	svc, _, _, _ := newTestSessionService(&fakeResolver{err: &identity.Error{Reason: identity.ReasonUnauthorized, Err: errors.New("bad token")}}, nil)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	_, err := svc.Authenticate(context.Background(), sess, "tok-bad")

	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, wire.CodeUnauthorized, protoErr.Code)
}

func TestSessionService_Authenticate_ClassifiesUnreachableAsUnauthorized(t *testing.T) {
	svc, _, _, _ := newTestSessionService(&fakeResolver{err: &identity.Error{Reason: identity.ReasonUnreachable, Err: errors.New("dial timeout")}}, nil)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	_, err := svc.Authenticate(context.Background(), sess, "tok-x")

	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, wire.CodeUnauthorized, protoErr.Code)
}

func TestSessionService_Authenticate_ClassifiesMalformedAsInternal(t *testing.T) {
	svc, _, _, _ := newTestSessionService(&fakeResolver{err: &identity.Error{Reason: identity.ReasonMalformed, Err: errors.New("bad json")}}, nil)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	_, err := svc.Authenticate(context.Background(), sess, "tok-y")

	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, wire.CodeInternal, protoErr.Code)
}

func TestSessionService_Disconnect_RemovesFromSessionsAndRoom(t *testing.T) {
	svc, sessions, rooms, _ := newTestSessionService(&fakeResolver{}, nil)

	user := identity.User{ID: 9, DisplayName: "carol"}
	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	require.NoError(t, sessions.Add(context.Background(), 9, sess))
	sess.SetUser(user)

	_, err := rooms.Create("room", 4, state.Member{UserID: 9}, nil)
	require.NoError(t, err)
	sess.SetRoomID(mustRoomForUser(t, rooms, 9))

	svc.Disconnect(sess)

	assert.Nil(t, sessions.Get(9))
	_, inRoom := rooms.RoomForUser(9)
	assert.False(t, inRoom)
}

func TestSessionService_Disconnect_NoopWithoutUser(t *testing.T) {
	svc, _, _, _ := newTestSessionService(&fakeResolver{}, nil)
	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	svc.Disconnect(sess) // must not panic
}

func TestSessionService_Ban_ClosesLiveSessionAndRecordsAudit(t *testing.T) {
	audit := &fakeAudit{}
	svc, sessions, _, _ := newTestSessionService(&fakeResolver{}, audit)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	require.NoError(t, sessions.Add(context.Background(), 55, sess))
	sess.SetUser(identity.User{ID: 55, DisplayName: "dan"})

	svc.Ban(context.Background(), state.BanEntry{Kind: state.BanKindUserID, Target: "55", Reason: "toxicity"})

	require.Len(t, audit.records, 1)
	assert.Equal(t, "ban", audit.records[0].action)
	assert.Equal(t, uint32(55), audit.records[0].targetUserID)
	assert.True(t, sess.IsClosed())
}

func TestSessionService_Ban_ByIPClosesMatchingSession(t *testing.T) {
	audit := &fakeAudit{}
	svc, sessions, _, _ := newTestSessionService(&fakeResolver{}, audit)

	sess := state.NewSession("sess-1", "203.0.113.5:1234")
	require.NoError(t, sessions.Add(context.Background(), 66, sess))
	sess.SetUser(identity.User{ID: 66, DisplayName: "fred"})

	svc.Ban(context.Background(), state.BanEntry{Kind: state.BanKindIP, Target: "203.0.113.5", Reason: "abuse"})

	assert.True(t, sess.IsClosed())
	require.Len(t, audit.records, 1)
	assert.Equal(t, uint32(66), audit.records[0].targetUserID)
}

func mustRoomForUser(t *testing.T, rooms *state.RoomRegistry, userID uint32) string {
	t.Helper()
	roomID, ok := rooms.RoomForUser(userID)
	require.True(t, ok)
	return roomID
}
