package observer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/beatline/syncserver/service"
	"github.com/beatline/syncserver/state"
)

// AdminBus adapts service.AdminService's domain operations to a JSON
// HTTP admin surface: every admin action is expressible as a domain
// operation with the same contract as the corresponding protocol path.
type AdminBus struct {
	admin  *service.AdminService
	token  string
	logger *slog.Logger
}

// NewAdminBus wires an AdminBus. An empty token makes RequireAuth
// reject every request (fail closed rather than fail open on a missing
// configuration); CheckAuth then reports admin=false.
func NewAdminBus(admin *service.AdminService, token string, logger *slog.Logger) *AdminBus {
	return &AdminBus{admin: admin, token: token, logger: logger}
}

// RequireAuth wraps next, returning 403 unless the request carries a
// matching "Authorization: Bearer <token>" header.
func (b *AdminBus) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (b *AdminBus) authorized(r *http.Request) bool {
	if b.token == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	return got == "Bearer "+b.token
}

func (b *AdminBus) actor(r *http.Request) string {
	if actor := r.Header.Get("X-Admin-Actor"); actor != "" {
		return actor
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}

// CheckAuth handles GET /check-auth, reporting whether the caller
// holds a valid admin credential.
func (b *AdminBus) CheckAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"admin": b.authorized(r)})
}

// AllPlayers handles GET /api/all-players.
func (b *AdminBus) AllPlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.admin.AllPlayers())
}

type serverMessageRequest struct {
	Text string `json:"text"`
}

// ServerMessage handles POST /api/admin/server-message.
func (b *AdminBus) ServerMessage(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[serverMessageRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	b.admin.ServerMessage(r.Context(), b.actor(r), req.Text)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type kickPlayerRequest struct {
	UserID uint32 `json:"userId"`
	Reason string `json:"reason"`
}

// KickPlayer handles POST /kick-player.
func (b *AdminBus) KickPlayer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[kickPlayerRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.KickPlayer(r.Context(), b.actor(r), req.UserID, req.Reason); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type roomIDRequest struct {
	RoomID string `json:"roomId"`
}

// ForceStart handles POST /force-start.
func (b *AdminBus) ForceStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[roomIDRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.ForceStart(r.Context(), b.actor(r), req.RoomID); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type toggleLockRequest struct {
	RoomID string `json:"roomId"`
	Locked bool   `json:"locked"`
}

// ToggleLock handles POST /toggle-lock.
func (b *AdminBus) ToggleLock(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[toggleLockRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.ToggleLock(r.Context(), b.actor(r), req.RoomID, req.Locked); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type setMaxPlayersRequest struct {
	RoomID   string `json:"roomId"`
	Capacity uint8  `json:"capacity"`
}

// SetMaxPlayers handles POST /set-max-players.
func (b *AdminBus) SetMaxPlayers(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[setMaxPlayersRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.SetMaxPlayers(r.Context(), b.actor(r), req.RoomID, req.Capacity); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CloseRoom handles POST /close-room.
func (b *AdminBus) CloseRoom(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[roomIDRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.CloseRoom(r.Context(), b.actor(r), req.RoomID); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type toggleModeRequest struct {
	RoomID    string `json:"roomId"`
	CycleMode bool   `json:"cycleMode"`
}

// ToggleMode handles POST /toggle-mode.
func (b *AdminBus) ToggleMode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[toggleModeRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.ToggleMode(r.Context(), b.actor(r), req.RoomID, req.CycleMode); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RoomBlacklist handles GET /room-blacklist?roomId=....
func (b *AdminBus) RoomBlacklist(w http.ResponseWriter, r *http.Request) {
	ids, err := b.admin.RoomBlacklist(r.URL.Query().Get("roomId"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint32{"userIds": ids})
}

// RoomWhitelist handles GET /room-whitelist?roomId=....
func (b *AdminBus) RoomWhitelist(w http.ResponseWriter, r *http.Request) {
	ids, err := b.admin.RoomWhitelist(r.URL.Query().Get("roomId"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint32{"userIds": ids})
}

type setAccessListRequest struct {
	RoomID  string   `json:"roomId"`
	UserIDs []uint32 `json:"userIds"`
}

// SetRoomBlacklist handles POST /set-room-blacklist.
func (b *AdminBus) SetRoomBlacklist(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[setAccessListRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.SetRoomBlacklist(r.Context(), b.actor(r), req.RoomID, req.UserIDs); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SetRoomWhitelist handles POST /set-room-whitelist.
func (b *AdminBus) SetRoomWhitelist(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[setAccessListRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := b.admin.SetRoomWhitelist(r.Context(), b.actor(r), req.RoomID, req.UserIDs); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type banRequest struct {
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"durationMs"`
}

// Ban handles POST /ban. kind is "by-user-id" or "by-ip"; target is
// the decimal user id or address it bans. A durationMs of zero bans
// permanently.
func (b *AdminBus) Ban(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[banRequest](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	kind, err := state.ParseBanKind(req.Kind)
	if err != nil {
		badRequest(w, err)
		return
	}
	duration := time.Duration(req.DurationMS) * time.Millisecond
	if err := b.admin.Ban(r.Context(), b.actor(r), kind, req.Target, req.Reason, duration); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
