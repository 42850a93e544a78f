// Package logging builds the process-wide slog.Logger: a text handler
// with a synthetic trace level below debug, a ReplaceAttr hook that
// renders it, and a wrapping Handle that lifts request-scoped context
// values onto every record. On top of that it adds a flood-protection
// gate: once the configured rate is exhausted, records are dropped
// until the limiter admits again, with a single "log suppressed"
// warning marking each drop streak.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/beatline/syncserver/config"
)

// LevelTrace sits below slog.LevelDebug for the most verbose, per-frame
// diagnostic output.
const LevelTrace = slog.Level(-8)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "user_id"
	ctxKeySessionID ctxKey = "session_id"
	ctxKeyIP        ctxKey = "ip"
)

// WithUserID attaches a user id to ctx for injection into subsequent
// log records produced with that context.
func WithUserID(ctx context.Context, userID uint32) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// WithSessionID attaches a session id to ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// WithIP attaches a remote address to ctx.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIP, ip)
}

// New builds the process logger from cfg.
func New(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				label, ok := levelNames[lvl]
				if !ok {
					label = lvl.String()
				}
				a.Value = slog.StringValue(label)
			}
			return a
		},
	}

	limit := rate.Limit(cfg.LogRateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	h := &handler{
		Handler: slog.NewTextHandler(os.Stdout, opts),
		limiter: rate.NewLimiter(limit, int(cfg.LogRateLimit)+1),
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handler lifts context values onto each record and enforces the
// flood-protection gate before delegating to the wrapped handler.
type handler struct {
	slog.Handler
	limiter    *rate.Limiter
	suppressed atomic.Bool
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.limiter.Allow() {
		if h.suppressed.CompareAndSwap(false, true) {
			warn := slog.NewRecord(r.Time, slog.LevelWarn, "log suppressed: rate limit exceeded", r.PC)
			return h.Handler.Handle(ctx, warn)
		}
		return nil
	}
	h.suppressed.Store(false)

	if uid := ctx.Value(ctxKeyUserID); uid != nil {
		r.AddAttrs(slog.Any("user_id", uid))
	}
	if sid := ctx.Value(ctxKeySessionID); sid != nil {
		r.AddAttrs(slog.Any("session_id", sid))
	}
	if ip := ctx.Value(ctxKeyIP); ip != nil {
		r.AddAttrs(slog.Any("ip", ip))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{Handler: h.Handler.WithAttrs(attrs), limiter: h.limiter}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{Handler: h.Handler.WithGroup(name), limiter: h.limiter}
}
