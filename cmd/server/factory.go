package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"

	"github.com/beatline/syncserver/audit"
	"github.com/beatline/syncserver/config"
	"github.com/beatline/syncserver/dispatcher"
	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/logging"
	"github.com/beatline/syncserver/observer"
	httpserver "github.com/beatline/syncserver/server/http"
	"github.com/beatline/syncserver/server/tcp"
	"github.com/beatline/syncserver/service"
	"github.com/beatline/syncserver/state"
)

// Container groups together the dependencies every server in this
// process shares.
type Container struct {
	cfg        config.Config
	logger     *slog.Logger
	sessions   *state.SessionManager
	rooms      *state.RoomRegistry
	bans       *state.BanRegistry
	auditStore *audit.Store
	identity   *identity.Client
	sessionSv  *service.SessionService
	roomSv     *service.RoomService
	adminSv    *service.AdminService
	dispatcher *dispatcher.Dispatcher
	hub        *observer.Hub
	adminBus   *observer.AdminBus
}

// MakeCommonDeps processes the environment into a config.Config,
// validates it, and wires every collaborator that both the TCP and
// admin HTTP servers need.
func MakeCommonDeps() (Container, error) {
	c := Container{}

	if err := envconfig.Process("", &c.cfg); err != nil {
		return c, fmt.Errorf("unable to process app config: %w", err)
	}
	if err := c.cfg.Validate(); err != nil {
		return c, fmt.Errorf("configuration validation failed: %w", err)
	}

	c.logger = logging.New(c.cfg)

	var err error
	c.auditStore, err = audit.Open(c.cfg.DBPath)
	if err != nil {
		return c, fmt.Errorf("unable to open audit store: %w", err)
	}

	c.bans = state.NewBanRegistry(func(entry state.BanEntry) {
		if c.sessionSv != nil {
			c.sessionSv.Ban(context.Background(), entry)
		}
	})
	c.bans.SetWhitelists(c.cfg.BanIDWhitelist, c.cfg.BanIPWhitelist)

	c.sessions = state.NewSessionManager(c.logger)
	c.rooms = state.NewRoomRegistry(c.logger)
	c.identity = identity.New(c.cfg.IdentityServiceURL, c.cfg.DefaultAvatarURL, c.cfg.IdentityTimeout)

	c.sessionSv = service.NewSessionService(c.sessions, c.rooms, c.bans, c.identity, c.auditStore, c.logger)
	c.roomSv = service.NewRoomService(c.sessions, c.rooms, c.logger)
	c.adminSv = service.NewAdminService(c.sessions, c.rooms, c.bans, c.auditStore, c.logger)

	c.hub = observer.NewHub(c.sessions, c.rooms, c.cfg.ObserverCoalesce, c.logger)
	c.hub.SetAllowedOrigins(c.cfg.AdminAllowedOrigins)
	c.adminBus = observer.NewAdminBus(c.adminSv, c.cfg.AdminToken, c.logger)

	c.sessionSv.SetObserver(c.hub.Touch)
	c.roomSv.SetObserver(c.hub.Touch)

	dcfg := dispatcher.Config{
		AuthTimeout:          c.cfg.AuthTimeout,
		KeepaliveInterval:    c.cfg.KeepaliveInterval,
		ReconnectGraceWindow: c.cfg.ReconnectGraceWindow,
		MaxFrameLength:       c.cfg.MaxFrameLength,
	}
	c.dispatcher = dispatcher.New(c.sessions, c.sessionSv, c.roomSv, c.rooms, dcfg, c.logger)

	return c, nil
}

// TCP builds the game-protocol TCP server.
func TCP(deps Container) *tcp.Server {
	cfg := tcp.Config{
		ListenAddr:       fmt.Sprintf("%s:%d", deps.cfg.Host, deps.cfg.Port),
		UseProxyProtocol: deps.cfg.UseProxyProtocol,
		MaxConnections:   deps.cfg.MaxConnections,
		IPHandshakeRate:  rate.Limit(deps.cfg.IPHandshakeRate),
		IPHandshakeBurst: deps.cfg.IPHandshakeBurst,
		IPGateTTL:        deps.cfg.IPGateTTL,
		IPWhitelist:      deps.cfg.BanIPWhitelist,
	}
	return tcp.New(deps.dispatcher, cfg, deps.logger.With("svc", "tcp"))
}

// AdminHTTP builds the admin HTTP and WebSocket server.
func AdminHTTP(deps Container) *httpserver.Server {
	addr := fmt.Sprintf("%s:%d", deps.cfg.AdminHost, deps.cfg.AdminPort)
	return httpserver.New(addr, deps.adminBus, deps.hub, deps.logger.With("svc", "admin"))
}
