// Package config loads server configuration from the environment: a
// single struct tagged for github.com/kelseyhightower/envconfig, with
// defaults and descriptions baked into struct tags so
// cmd/config_generator can reflect over them to produce a settings
// template.
package config

import (
	"fmt"
	"time"
)

//go:generate go run github.com/beatline/syncserver/cmd/config_generator windows settings.bat
//go:generate go run github.com/beatline/syncserver/cmd/config_generator unix settings.env

// Config holds every setting the server reads at startup.
type Config struct {
	Host string `envconfig:"HOST" required:"true" val:"0.0.0.0" description:"Host address the TCP and admin listeners bind to."`
	Port int    `envconfig:"TCP_PORT" required:"true" val:"5190" description:"TCP port the game protocol listens on."`

	ServerName         string `envconfig:"SERVER_NAME" required:"true" val:"beatline" description:"Name announced to clients and shown in the admin panel."`
	DefaultRoomSize    uint8  `envconfig:"DEFAULT_ROOM_SIZE" required:"true" val:"8" description:"Capacity assigned to a room when its creator does not request one."`
	ServerAnnouncement string `envconfig:"SERVER_ANNOUNCEMENT" val:"" description:"Message written to the server log once at startup; it is not sent to sessions. Empty disables it."`

	IdentityServiceURL string        `envconfig:"IDENTITY_SERVICE_URL" required:"true" val:"https://example.com/api" description:"Base URL of the external identity service validating session tokens."`
	DefaultAvatarURL   string        `envconfig:"DEFAULT_AVATAR_URL" val:"" description:"Avatar URL substituted when the identity service omits one."`
	IdentityTimeout    time.Duration `envconfig:"IDENTITY_TIMEOUT" val:"10s" description:"Deadline applied to every identity service call."`

	SilentUserIDs  []uint32 `envconfig:"SILENT_USER_IDS" description:"User IDs accepted for settings-file compatibility. Parsed but not read by any component: logging and all other behaviour are the same for these IDs."`
	BanIDWhitelist []uint32 `envconfig:"BAN_ID_WHITELIST" description:"User IDs that can never be banned."`
	BanIPWhitelist []string `envconfig:"BAN_IP_WHITELIST" description:"Remote addresses exempted from the per-IP handshake rate limiter."`

	UseProxyProtocol bool `envconfig:"USE_PROXY_PROTOCOL" val:"false" description:"Expect a PROXY protocol v1/v2 header on each accepted TCP connection, as set by an upstream load balancer."`
	TCPEnabled       bool `envconfig:"TCP_ENABLED" val:"true" description:"Enable the TCP game protocol listener."`
	EnableWebServer  bool `envconfig:"ENABLE_WEB_SERVER" val:"true" description:"Enable the admin HTTP and WebSocket observer listener."`

	// EnableUpdateCheck is accepted for settings-file compatibility and
	// deliberately ignored; this server never phones home.
	EnableUpdateCheck bool `envconfig:"ENABLE_UPDATE_CHECK" val:"false" description:"Ignored. Accepted only so settings files carried over from other deployments still parse."`

	AdminHost           string   `envconfig:"ADMIN_HOST" required:"true" val:"0.0.0.0" description:"Host address the admin HTTP/WebSocket listener binds to."`
	AdminPort           int      `envconfig:"ADMIN_PORT" required:"true" val:"8080" description:"Port the admin HTTP/WebSocket listener binds to."`
	AdminToken          string   `envconfig:"ADMIN_TOKEN" description:"Bearer token required on every admin HTTP route except /check-auth and the /observer WebSocket. When unset, the token-guarded routes answer 403 to every request."`
	AdminAllowedOrigins []string      `envconfig:"ADMIN_ALLOWED_ORIGINS" description:"Origins permitted to open the observer WebSocket. Empty falls back to loopback and private-network addresses only."`
	ObserverCoalesce    time.Duration `envconfig:"OBSERVER_COALESCE" val:"250ms" description:"How long the observer hub batches rapid state changes before emitting a fresh snapshot."`

	AuthTimeout          time.Duration `envconfig:"AUTH_TIMEOUT" val:"10s" description:"How long a connection may stay unauthenticated before it is closed."`
	KeepaliveInterval    time.Duration `envconfig:"KEEPALIVE_INTERVAL" val:"30s" description:"Interval between keepalive pings sent to an authenticated session."`
	ReconnectGraceWindow time.Duration `envconfig:"RECONNECT_GRACE_WINDOW" val:"15s" description:"How long a disconnecting session's room slot is held open while its room is playing, before the disconnect is recorded as an abort."`
	MaxFrameLength       uint32        `envconfig:"MAX_FRAME_LENGTH" val:"1048576" description:"Largest frame length accepted before the connection is dropped for a protocol violation."`

	IPHandshakeRate  float64       `envconfig:"IP_HANDSHAKE_RATE" val:"2" description:"Sustained handshake attempts per second allowed from a single IP address."`
	IPHandshakeBurst int           `envconfig:"IP_HANDSHAKE_BURST" val:"5" description:"Burst of handshake attempts allowed from a single IP address above the sustained rate."`
	IPGateTTL        time.Duration `envconfig:"IP_GATE_TTL" val:"10m" description:"How long an IP's rate limiter entry is retained after it is created, before eviction."`
	MaxConnections   int           `envconfig:"MAX_CONNECTIONS" val:"0" description:"Maximum simultaneously accepted TCP connections. Zero disables the cap."`

	DBPath string `envconfig:"DB_PATH" required:"true" val:"beatline.db" description:"Path to the SQLite database backing the audit log."`

	LogLevel     string  `envconfig:"LOG_LEVEL" required:"true" val:"info" description:"Minimum level logged: trace, debug, info, warn, or error."`
	LogRateLimit float64 `envconfig:"LOG_RATE_LIMIT" val:"200" description:"Maximum log records emitted per second before records are dropped with a single suppression warning."`
}

// Validate checks invariants envconfig's struct tags cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TCP_PORT %d out of range", c.Port)
	}
	if c.AdminPort <= 0 || c.AdminPort > 65535 {
		return fmt.Errorf("config: ADMIN_PORT %d out of range", c.AdminPort)
	}
	if c.DefaultRoomSize == 0 {
		return fmt.Errorf("config: DEFAULT_ROOM_SIZE must be greater than zero")
	}
	if c.IdentityServiceURL == "" {
		return fmt.Errorf("config: IDENTITY_SERVICE_URL is required")
	}
	if c.MaxFrameLength == 0 {
		return fmt.Errorf("config: MAX_FRAME_LENGTH must be greater than zero")
	}
	return nil
}
