package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatline/syncserver/wire"
)

func collectChanges(t *testing.T) func(Change) {
	t.Helper()
	return func(Change) {}
}

func TestRoom_JoinLeave(t *testing.T) {
	room := NewRoom("r1", "test room", 4, Member{UserID: 1, DisplayName: "host"}, collectChanges(t))
	defer room.Stop()

	snap := room.Snapshot()
	require.Len(t, snap.Members, 1)
	assert.Equal(t, uint32(1), snap.HostUserID)

	_, err := room.Join(Member{UserID: 2, DisplayName: "two"}, false)
	require.NoError(t, err)
	snap = room.Snapshot()
	assert.Len(t, snap.Members, 2)

	c := room.Leave(2)
	assert.Len(t, c.Room.Members, 1)
	assert.False(t, c.Destroyed)

	c = room.Leave(1)
	assert.True(t, c.Destroyed)
}

func TestRoom_HostMigrationOnLeave(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()

	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	_, err = room.Join(Member{UserID: 3}, false)
	require.NoError(t, err)

	c := room.Leave(1)
	assert.Equal(t, uint32(2), c.Room.HostUserID)
}

func TestRoom_JoinRejectsFullLockedBlacklisted(t *testing.T) {
	room := NewRoom("r1", "test", 1, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()

	_, err := room.Join(Member{UserID: 2}, false)
	assert.ErrorIs(t, err, ErrRoomFull)

	_, err = room.SetCapacity(5)
	require.NoError(t, err)
	room.SetLocked(true)
	_, err = room.Join(Member{UserID: 2}, false)
	assert.ErrorIs(t, err, ErrRoomLocked)

	_, err = room.Join(Member{UserID: 2}, true)
	require.NoError(t, err)

	room.SetLocked(false)
	c := room.SetBlacklist([]uint32{3})
	assert.Empty(t, c.KickedUsers)
	_, err = room.Join(Member{UserID: 3}, false)
	assert.ErrorIs(t, err, ErrRoomBlacklisted)
}

func TestRoom_SelectChartRequiresHostAndSelectingState(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)

	_, err = room.SelectChart(2, wire.ChartDescriptor{ChartID: "c1"})
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "c1", Name: "Song"})
	require.NoError(t, err)
	snap := room.Snapshot()
	require.NotNil(t, snap.SelectedChart)
	assert.Equal(t, "Song", snap.SelectedChart.Name)
}

func TestRoom_ReadyQuorum_HostImplicitlyReady(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	_, err = room.Join(Member{UserID: 3}, false)
	require.NoError(t, err)
	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "c1"})
	require.NoError(t, err)

	snap := room.Snapshot()
	require.Equal(t, WaitingForReady, snap.State)

	_, err = room.Ready(2)
	require.NoError(t, err)
	snap = room.Snapshot()
	assert.Equal(t, WaitingForReady, snap.State, "still waiting on member 3")

	_, err = room.Ready(3)
	require.NoError(t, err)
	snap = room.Snapshot()
	assert.Equal(t, Playing, snap.State)
}

func TestRoom_SubmitScoreAndRanking(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)

	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "c1"})
	require.NoError(t, err)
	_, err = room.ForceStart()
	require.NoError(t, err)

	_, err = room.SubmitScore(1, ScoreRecord{Score: 900000, Accuracy: 950000})
	require.NoError(t, err)
	c, err := room.SubmitScore(2, ScoreRecord{Score: 950000, Accuracy: 900000})
	require.NoError(t, err)
	require.Len(t, c.Results, 2)
	assert.Equal(t, uint32(2), c.Results[0].UserID)
	assert.Equal(t, uint32(1), c.Results[1].UserID)
}

func TestRoom_AbortOnLeaveDuringPlay(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "c1"})
	require.NoError(t, err)
	_, err = room.ForceStart()
	require.NoError(t, err)

	c := room.Leave(2)
	require.NotNil(t, c.Room)
	assert.Equal(t, Playing, c.Room.State)

	c, err = room.SubmitScore(1, ScoreRecord{Score: 800000})
	require.NoError(t, err)
	require.Len(t, c.Results, 2)
	assert.True(t, c.Results[1].Aborted)
}

func TestRoom_CycleModeRotatesHostOnNextChart(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	room.SetCycleMode(true)

	_, err = room.SelectChart(1, wire.ChartDescriptor{ChartID: "c1"})
	require.NoError(t, err)
	_, err = room.ForceStart()
	require.NoError(t, err)

	_, err = room.SubmitScore(1, ScoreRecord{Score: 100})
	require.NoError(t, err)
	c, err := room.SubmitScore(2, ScoreRecord{Score: 50})
	require.NoError(t, err)
	require.Len(t, c.Results, 2)
	require.Equal(t, Results, c.Room.State)

	_, err = room.NextChart(1)
	require.NoError(t, err)
	snap := room.Snapshot()
	assert.Equal(t, Selecting, snap.State)
	assert.Equal(t, uint32(2), snap.HostUserID)
}

func TestRoom_SetWhitelistKicksWhenLocked(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	room.SetLocked(true)

	c := room.SetWhitelist([]uint32{1})
	assert.Contains(t, c.KickedUsers, uint32(2))
}

func TestRoom_ChatEventsRecorded(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, collectChanges(t))
	defer room.Stop()
	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)

	events := room.ChatEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, EventCreateRoom, events[0].Kind)
}

func TestRoom_NotifyIsCalledForEachMutation(t *testing.T) {
	var count int
	var mu sync.Mutex
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, func(Change) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer room.Stop()

	_, err := room.Join(Member{UserID: 2}, false)
	require.NoError(t, err)
	room.SetLocked(true)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)
}

func TestRoom_StopIsIdempotentAndDrainsMailbox(t *testing.T) {
	room := NewRoom("r1", "test", 4, Member{UserID: 1}, nil)
	room.Stop()
	room.Stop()
	// submitting after Stop should not deadlock
	done := make(chan struct{})
	go func() {
		_, _ = room.Join(Member{UserID: 2}, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exec after Stop deadlocked")
	}
}
