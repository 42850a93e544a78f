package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// SessionService handles the authentication handshake and the
// disconnect teardown shared by every path that ends a session
// (client disconnect, ban, admin kick, keepalive timeout).
type SessionService struct {
	sessions SessionRegistry
	rooms    RoomManager
	bans     BanChecker
	identity IdentityResolver
	audit    AuditRecorder
	logger   *slog.Logger
	observer func()
}

// SetObserver installs a hook invoked whenever the authenticated
// session count changes (connect, disconnect, ban), used to signal the
// observer hub that serverStats has moved. Safe to leave unset.
func (s *SessionService) SetObserver(fn func()) {
	s.observer = fn
}

// NewSessionService wires a SessionService from its collaborators.
// audit may be nil, in which case bans simply aren't recorded;
// disconnects are never recorded.
func NewSessionService(sessions SessionRegistry, rooms RoomManager, bans BanChecker, resolver IdentityResolver, audit AuditRecorder, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		rooms:    rooms,
		bans:     bans,
		identity: resolver,
		audit:    audit,
		logger:   logger,
	}
}

// Authenticate resolves token against the identity service, rejects
// banned users, and installs sess into the process-wide session table,
// displacing any prior session for the same user.
func (s *SessionService) Authenticate(ctx context.Context, sess *state.Session, token string) (identity.User, error) {
	user, err := s.identity.Resolve(ctx, token)
	if err != nil {
		return identity.User{}, s.classifyIdentityError(err)
	}

	if entry, banned := s.bans.Check(user.ID, sess.RemoteAddr()); banned {
		s.logger.Info("rejected authentication for banned user", "user_id", user.ID, "kind", entry.Kind, "reason", entry.Reason)
		return identity.User{}, wire.NewProtocolError(wire.CodeBanned, entry.Reason)
	}

	if err := s.sessions.Add(ctx, user.ID, sess); err != nil {
		return identity.User{}, wire.NewProtocolError(wire.CodeInternal, "session registration failed")
	}

	sess.SetUser(user)
	s.logger.Info("session authenticated", "user_id", user.ID, "remote_addr", sess.RemoteAddr())
	if s.observer != nil {
		s.observer()
	}
	return user, nil
}

// Disconnect removes sess from its room (if any) and from the
// process-wide session table. Safe to call more than once.
func (s *SessionService) Disconnect(sess *state.Session) {
	user := sess.User()
	if user == nil {
		return
	}
	s.rooms.Leave(user.ID)
	s.sessions.Remove(user.ID, sess)
	s.logger.Info("session disconnected", "user_id", user.ID)
	if s.observer != nil {
		s.observer()
	}
}

// Ban terminates any live session matching entry in addition to
// recording the ban in the registry; wired as BanRegistry's onBan
// callback. A by-ip entry is matched against every session's remote
// address since it targets no single user id.
func (s *SessionService) Ban(ctx context.Context, entry state.BanEntry) {
	switch entry.Kind {
	case state.BanKindUserID:
		userID, err := strconv.ParseUint(entry.Target, 10, 32)
		if err != nil {
			return
		}
		s.closeAndAudit(ctx, s.sessions.Get(uint32(userID)), uint32(userID), entry.Reason)
	case state.BanKindIP:
		for _, sess := range s.sessions.All() {
			if remoteHost(sess.RemoteAddr()) != entry.Target {
				continue
			}
			userID := uint32(0)
			if u := sess.User(); u != nil {
				userID = u.ID
			}
			s.closeAndAudit(ctx, sess, userID, entry.Reason)
		}
	}
}

func (s *SessionService) closeAndAudit(ctx context.Context, sess *state.Session, userID uint32, reason string) {
	if sess == nil {
		return
	}
	_, _ = sess.RelayMessage(wire.TypeKicked, wire.Kicked{Reason: reason})
	sess.Close()
	if s.audit != nil {
		_ = s.audit.Record(ctx, "ban", "system", userID, reason)
	}
}

// classifyIdentityError maps an identity resolution failure to the
// wire error the dispatcher sends the client. An unreachable identity
// service is a transient operational condition, not a client protocol
// fault: it is surfaced as UNAUTHORIZED (non-fatal) and logged at warn
// rather than closing the session with INTERNAL.
func (s *SessionService) classifyIdentityError(err error) error {
	var identErr *identity.Error
	if errors.As(err, &identErr) {
		switch identErr.Reason {
		case identity.ReasonUnauthorized:
			return wire.NewProtocolError(wire.CodeUnauthorized, "token rejected")
		case identity.ReasonUnreachable:
			s.logger.Warn("identity service unreachable", "error", identErr.Err)
			return wire.NewProtocolError(wire.CodeUnauthorized, "identity service unavailable")
		default:
			return wire.NewProtocolError(wire.CodeInternal, "identity response malformed")
		}
	}
	return wire.NewProtocolError(wire.CodeInternal, "identity resolution failed")
}

// remoteHost strips a port from addr, if present, so a session's
// RemoteAddr (host:port) matches a bare address ban target.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
