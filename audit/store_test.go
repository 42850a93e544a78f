package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit_test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Record_PersistsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "kick_player", "admin@console", 42, "disruptive"))

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "kick_player", r.Action)
	assert.Equal(t, "admin@console", r.Actor)
	assert.Equal(t, uint32(42), r.TargetUserID)
	assert.Equal(t, "disruptive", r.Detail)
	assert.False(t, r.RecordedAt.IsZero())
}

func TestStore_Recent_OrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "ban", "admin@console", 1, "first"))
	require.NoError(t, s.Record(ctx, "ban", "admin@console", 2, "second"))
	require.NoError(t, s.Record(ctx, "ban", "admin@console", 3, "third"))

	records, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].Detail)
	assert.Equal(t, "second", records[1].Detail)
}

func TestStore_Open_IsIdempotentAcrossReopens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit_test.db")

	s1, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Record(context.Background(), "toggle_lock", "admin@console", 0, "room-1"))
	require.NoError(t, s1.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	records, err := s2.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "toggle_lock", records[0].Action)
}
