package state

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionManager_AddGetRemove(t *testing.T) {
	sm := NewSessionManager(testLogger())
	sess := NewSession("sess-1", "203.0.113.5:1234")

	require.NoError(t, sm.Add(context.Background(), 100, sess))
	assert.Equal(t, sess, sm.Get(100))
	assert.Equal(t, 1, sm.Count())

	sm.Remove(100, sess)
	assert.Nil(t, sm.Get(100))
	assert.Equal(t, 0, sm.Count())
}

func TestSessionManager_Add_DisplacesPriorSession(t *testing.T) {
	sm := NewSessionManager(testLogger())
	first := NewSession("sess-1", "203.0.113.5:1")
	require.NoError(t, sm.Add(context.Background(), 100, first))

	go func() {
		// simulate the prior connection's reader loop noticing the
		// close signal and deregistering itself.
		<-first.Closed()
		sm.Remove(100, first)
	}()

	second := NewSession("sess-2", "203.0.113.5:2")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sm.Add(ctx, 100, second))

	assert.True(t, first.IsClosed())
	assert.Equal(t, second, sm.Get(100))
}

func TestSessionManager_Add_TimesOutIfPriorSessionNeverDeregisters(t *testing.T) {
	sm := NewSessionManager(testLogger())
	first := NewSession("sess-1", "203.0.113.5:1")
	require.NoError(t, sm.Add(context.Background(), 100, first))

	second := NewSession("sess-2", "203.0.113.5:2")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sm.Add(ctx, 100, second)
	assert.Error(t, err)
}

func TestSessionManager_All(t *testing.T) {
	sm := NewSessionManager(testLogger())
	s1 := NewSession("sess-1", "203.0.113.5:1")
	s2 := NewSession("sess-2", "203.0.113.5:2")
	require.NoError(t, sm.Add(context.Background(), 100, s1))
	require.NoError(t, sm.Add(context.Background(), 200, s2))

	all := sm.All()
	assert.Len(t, all, 2)
	assert.ElementsMatch(t, []*Session{s1, s2}, all)
}
