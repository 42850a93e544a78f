package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/beatline/syncserver/config"
)

func TestNew_ParsesTraceLevel(t *testing.T) {
	logger := New(config.Config{LogLevel: "trace", LogRateLimit: 100})
	assert.True(t, logger.Enabled(context.Background(), LevelTrace))
}

func TestNew_DefaultsToInfo(t *testing.T) {
	logger := New(config.Config{LogLevel: "nonsense", LogRateLimit: 100})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestHandler_InjectsContextValues(t *testing.T) {
	buf := &bytes.Buffer{}
	h := &handler{
		Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	logger := slog.New(h)

	ctx := WithUserID(context.Background(), 42)
	ctx = WithIP(ctx, "10.0.0.1")
	logger.InfoContext(ctx, "hello")

	out := buf.String()
	assert.True(t, strings.Contains(out, "user_id=42"))
	assert.True(t, strings.Contains(out, "ip=10.0.0.1"))
}

func TestHandler_DropsRecordsOnceLimiterExhausted(t *testing.T) {
	buf := &bytes.Buffer{}
	h := &handler{
		Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		limiter: rate.NewLimiter(0, 1),
	}
	logger := slog.New(h)

	logger.InfoContext(context.Background(), "first")
	logger.InfoContext(context.Background(), "second")
	logger.InfoContext(context.Background(), "third")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "log suppressed"))
	assert.False(t, strings.Contains(out, "second"))
}
