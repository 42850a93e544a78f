package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// AdminService implements the operator actions exposed over the admin
// HTTP surface, routed through the same domain operations a protocol
// client would use so the two paths can never disagree about room
// state.
type AdminService struct {
	sessions SessionRegistry
	rooms    RoomManager
	bans     BanChecker
	audit    AuditRecorder
	logger   *slog.Logger
}

// NewAdminService wires an AdminService from its collaborators.
func NewAdminService(sessions SessionRegistry, rooms RoomManager, bans BanChecker, audit AuditRecorder, logger *slog.Logger) *AdminService {
	return &AdminService{sessions: sessions, rooms: rooms, bans: bans, audit: audit, logger: logger}
}

// ServerMessage broadcasts an operator message to every connected
// session, independent of room membership.
func (s *AdminService) ServerMessage(ctx context.Context, actor, text string) {
	msg := wire.ServerMessage{Text: text}
	for _, sess := range s.sessions.All() {
		_, _ = sess.RelayMessage(wire.TypeServerMessage, msg)
	}
	s.recordAudit(ctx, "server_message", actor, 0, text)
}

// KickPlayer forcibly removes userID from its room and disconnects it.
func (s *AdminService) KickPlayer(ctx context.Context, actor string, userID uint32, reason string) error {
	roomID, ok := s.rooms.RoomForUser(userID)
	if ok {
		room, err := s.rooms.Get(roomID)
		if err == nil {
			room.Kick(userID)
		}
	}
	if sess := s.sessions.Get(userID); sess != nil {
		_, _ = sess.RelayMessage(wire.TypeKicked, wire.Kicked{Reason: reason})
		sess.Close()
	}
	s.recordAudit(ctx, "kick_player", actor, userID, reason)
	return nil
}

// ForceStart bypasses a room's ready quorum.
func (s *AdminService) ForceStart(ctx context.Context, actor, roomID string) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	_, err = room.ForceStart()
	if err == nil {
		s.recordAudit(ctx, "force_start", actor, 0, roomID)
	}
	return err
}

// ToggleLock sets a room's locked flag.
func (s *AdminService) ToggleLock(ctx context.Context, actor, roomID string, locked bool) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	room.SetLocked(locked)
	s.recordAudit(ctx, "toggle_lock", actor, 0, roomID)
	return nil
}

// SetMaxPlayers changes a room's capacity.
func (s *AdminService) SetMaxPlayers(ctx context.Context, actor, roomID string, capacity uint8) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	if _, err := room.SetCapacity(capacity); err != nil {
		return err
	}
	s.recordAudit(ctx, "set_max_players", actor, 0, roomID)
	return nil
}

// CloseRoom removes every member from a room, destroying it.
func (s *AdminService) CloseRoom(ctx context.Context, actor, roomID string) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	for _, m := range room.Snapshot().Members {
		room.Kick(m.UserID)
		if sess := s.sessions.Get(m.UserID); sess != nil {
			_, _ = sess.RelayMessage(wire.TypeKicked, wire.Kicked{Reason: "room closed by operator"})
		}
	}
	s.recordAudit(ctx, "close_room", actor, 0, roomID)
	return nil
}

// ToggleMode sets a room's cycle mode.
func (s *AdminService) ToggleMode(ctx context.Context, actor, roomID string, cycleMode bool) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	room.SetCycleMode(cycleMode)
	s.recordAudit(ctx, "toggle_mode", actor, 0, roomID)
	return nil
}

// RoomBlacklist returns a room's current blacklist.
func (s *AdminService) RoomBlacklist(roomID string) ([]uint32, error) {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	return room.Blacklist(), nil
}

// RoomWhitelist returns a room's current whitelist.
func (s *AdminService) RoomWhitelist(roomID string) ([]uint32, error) {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	return room.Whitelist(), nil
}

// SetRoomBlacklist replaces a room's blacklist.
func (s *AdminService) SetRoomBlacklist(ctx context.Context, actor, roomID string, ids []uint32) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	room.SetBlacklist(ids)
	s.recordAudit(ctx, "set_room_blacklist", actor, 0, roomID)
	return nil
}

// SetRoomWhitelist replaces a room's whitelist.
func (s *AdminService) SetRoomWhitelist(ctx context.Context, actor, roomID string, ids []uint32) error {
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return err
	}
	room.SetWhitelist(ids)
	s.recordAudit(ctx, "set_room_whitelist", actor, 0, roomID)
	return nil
}

// Ban bans kind/target for duration (zero for permanent) and, for a
// by-user-id ban, terminates any live session for that user.
func (s *AdminService) Ban(ctx context.Context, actor string, kind state.BanKind, target, reason string, duration time.Duration) error {
	entry := state.BanEntry{Kind: kind, Target: target, Reason: reason, BannedAt: time.Now()}
	if duration > 0 {
		entry.ExpiresAt = entry.BannedAt.Add(duration)
	}
	if err := s.bans.Add(entry); err != nil {
		return err
	}

	var targetUserID uint32
	if kind == state.BanKindUserID {
		if id, err := strconv.ParseUint(target, 10, 32); err == nil {
			targetUserID = uint32(id)
			if roomID, ok := s.rooms.RoomForUser(targetUserID); ok {
				if room, err := s.rooms.Get(roomID); err == nil {
					room.Kick(targetUserID)
				}
			}
			if sess := s.sessions.Get(targetUserID); sess != nil {
				_, _ = sess.RelayMessage(wire.TypeKicked, wire.Kicked{Reason: reason})
				sess.Close()
			}
		}
	}
	s.recordAudit(ctx, "ban", actor, targetUserID, kind.String()+":"+target+" "+reason)
	return nil
}

// Unban lifts a ban.
func (s *AdminService) Unban(ctx context.Context, actor string, kind state.BanKind, target string) {
	s.bans.Remove(kind, target)
	s.recordAudit(ctx, "unban", actor, 0, kind.String()+":"+target)
}

// BanWhitelist returns the process-wide ban-exemption whitelists.
func (s *AdminService) BanWhitelist() ([]uint32, []string) {
	return s.bans.Whitelists()
}

// SetBanWhitelist replaces the process-wide ban-exemption whitelists.
func (s *AdminService) SetBanWhitelist(ctx context.Context, actor string, ids []uint32, ips []string) {
	s.bans.SetWhitelists(ids, ips)
	s.recordAudit(ctx, "set_ban_whitelist", actor, 0, "")
}

// CheckAuth reports whether userID or ip is currently banned.
func (s *AdminService) CheckAuth(userID uint32, ip string) (state.BanEntry, bool) {
	return s.bans.Check(userID, ip)
}

// AllPlayers returns a snapshot of every connected session's user id
// and current room, for the admin HTTP surface's player listing.
func (s *AdminService) AllPlayers() []PlayerSummary {
	sessions := s.sessions.All()
	out := make([]PlayerSummary, 0, len(sessions))
	for _, sess := range sessions {
		user := sess.User()
		if user == nil {
			continue
		}
		roomID, _ := s.rooms.RoomForUser(user.ID)
		out = append(out, PlayerSummary{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			RoomID:      roomID,
		})
	}
	return out
}

// PlayerSummary is one row of the admin player listing.
type PlayerSummary struct {
	UserID      uint32
	DisplayName string
	RoomID      string
}

func (s *AdminService) recordAudit(ctx context.Context, action, actor string, targetUserID uint32, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, actor, targetUserID, detail); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
