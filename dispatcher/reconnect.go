package dispatcher

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// reconnectSlot identifies the (room, user) pair a pending grace-window
// timer is tracking.
type reconnectSlot struct {
	roomID string
	userID uint32
	// cancelled marks a slot removed by Cancel, whose eviction must not
	// record an abort.
	cancelled atomic.Bool
}

// ReconnectTracker holds a grace window per (room, user) opened by a
// disconnect while that room was Playing (15s default). A reconnect
// within the window cancels the slot and resumes membership in place;
// an expired slot calls onExpire, which records the member as
// aborted. Built on the same go-cache lazy-expiry pattern as
// state.BanRegistry, reused here for its OnEvicted hook rather than a
// sweeping goroutine of our own.
type ReconnectTracker struct {
	slots    *cache.Cache
	window   time.Duration
	onExpire func(roomID string, userID uint32)
}

// NewReconnectTracker creates a tracker with the given grace window.
func NewReconnectTracker(window time.Duration, onExpire func(roomID string, userID uint32)) *ReconnectTracker {
	cleanup := window / 3
	if cleanup < time.Second {
		cleanup = time.Second
	}
	t := &ReconnectTracker{
		slots:    cache.New(cache.NoExpiration, cleanup),
		window:   window,
		onExpire: onExpire,
	}
	t.slots.OnEvicted(func(key string, v interface{}) {
		slot := v.(*reconnectSlot)
		if slot.cancelled.Load() {
			return
		}
		t.onExpire(slot.roomID, slot.userID)
	})
	return t
}

// Defer opens a grace slot for (roomID, userID).
func (t *ReconnectTracker) Defer(roomID string, userID uint32) {
	t.slots.Set(reconnectKey(roomID, userID), &reconnectSlot{roomID: roomID, userID: userID}, t.window)
}

// Cancel closes a pending grace slot early, reporting whether one
// existed.
func (t *ReconnectTracker) Cancel(roomID string, userID uint32) bool {
	k := reconnectKey(roomID, userID)
	v, found := t.slots.Get(k)
	if !found {
		return false
	}
	v.(*reconnectSlot).cancelled.Store(true)
	t.slots.Delete(k)
	return true
}

func reconnectKey(roomID string, userID uint32) string {
	return fmt.Sprintf("%s:%d", roomID, userID)
}
