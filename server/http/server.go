// Package http is the admin HTTP and WebSocket transport: it mounts
// observer.AdminBus's JSON handlers and observer.Hub's WebSocket
// upgrade behind a single net/http.ServeMux, wrapped in a thin Server
// with the usual ListenAndServe/Shutdown lifecycle.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/beatline/syncserver/observer"
)

// New builds the admin Server, mounting every admin route. Every
// route except /check-auth and the observer WebSocket upgrade is
// wrapped in bus.RequireAuth.
func New(addr string, bus *observer.AdminBus, hub *observer.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /check-auth", bus.CheckAuth)
	mux.HandleFunc("GET /observer", hub.HandleWebSocket)

	mux.HandleFunc("GET /api/all-players", bus.RequireAuth(bus.AllPlayers))
	mux.HandleFunc("POST /api/admin/server-message", bus.RequireAuth(bus.ServerMessage))
	mux.HandleFunc("POST /kick-player", bus.RequireAuth(bus.KickPlayer))
	mux.HandleFunc("POST /force-start", bus.RequireAuth(bus.ForceStart))
	mux.HandleFunc("POST /toggle-lock", bus.RequireAuth(bus.ToggleLock))
	mux.HandleFunc("POST /set-max-players", bus.RequireAuth(bus.SetMaxPlayers))
	mux.HandleFunc("POST /close-room", bus.RequireAuth(bus.CloseRoom))
	mux.HandleFunc("POST /toggle-mode", bus.RequireAuth(bus.ToggleMode))
	mux.HandleFunc("GET /room-blacklist", bus.RequireAuth(bus.RoomBlacklist))
	mux.HandleFunc("GET /room-whitelist", bus.RequireAuth(bus.RoomWhitelist))
	mux.HandleFunc("POST /set-room-blacklist", bus.RequireAuth(bus.SetRoomBlacklist))
	mux.HandleFunc("POST /set-room-whitelist", bus.RequireAuth(bus.SetRoomWhitelist))
	mux.HandleFunc("POST /ban", bus.RequireAuth(bus.Ban))

	return &Server{
		server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Server wraps an http.Server with a ListenAndServe/Shutdown pair.
type Server struct {
	server http.Server
	logger *slog.Logger
}

// ListenAndServe blocks serving the admin surface until Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin surface.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.logger.Info("admin server shutdown complete")
	return s.server.Shutdown(ctx)
}
