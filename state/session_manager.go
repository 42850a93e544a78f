package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type sessionSlot struct {
	sess    *Session
	removed chan struct{}
}

var errSessConflict = errors.New("session conflict: another session was created concurrently for this user")

// SessionManager is the process-wide connection table: one live
// session per authenticated user id. It is safe for concurrent use by
// multiple goroutines.
type SessionManager struct {
	store    map[uint32]*sessionSlot
	mapMutex sync.RWMutex
	logger   *slog.Logger
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return &SessionManager{
		logger: logger,
		store:  make(map[uint32]*sessionSlot),
	}
}

// Add registers sess under userID. If a live session already exists for
// userID, it is closed and Add waits for it to be removed before
// installing the new one — the same displace-and-wait pattern used for
// every reconnect, so a stale connection can never shadow a fresh one.
func (s *SessionManager) Add(ctx context.Context, userID uint32, sess *Session) error {
	s.mapMutex.Lock()

	active, ok := s.store[userID]
	if ok {
		s.mapMutex.Unlock()

		active.sess.Close()

		select {
		case <-active.removed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for previous session to terminate: %w", ctx.Err())
		}

		s.mapMutex.Lock()
	}
	defer s.mapMutex.Unlock()

	if ok {
		if _, stillThere := s.store[userID]; stillThere {
			return errSessConflict
		}
	}

	s.store[userID] = &sessionSlot{
		sess:    sess,
		removed: make(chan struct{}),
	}
	return nil
}

// Remove takes sess out of the connection table. A no-op if a
// different session is now registered for the same user id (the
// displaced-session case in Add).
func (s *SessionManager) Remove(userID uint32, sess *Session) {
	s.mapMutex.Lock()
	defer s.mapMutex.Unlock()
	if rec, ok := s.store[userID]; ok && rec.sess == sess {
		delete(s.store, userID)
		close(rec.removed)
	}
}

// Get returns the live session for userID, or nil if the user is not
// connected.
func (s *SessionManager) Get(userID uint32) *Session {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	if rec, ok := s.store[userID]; ok {
		return rec.sess
	}
	return nil
}

// Count returns the number of live sessions.
func (s *SessionManager) Count() int {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	return len(s.store)
}

// All returns every live session. The returned slice is a snapshot;
// the table may change immediately after this call returns.
func (s *SessionManager) All() []*Session {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	sessions := make([]*Session, 0, len(s.store))
	for _, rec := range s.store {
		sessions = append(sessions, rec.sess)
	}
	return sessions
}

// RelayToUser relays a frame to the session owned by userID, if
// connected. Logs and drops otherwise.
func (s *SessionManager) RelayToUser(ctx context.Context, userID uint32, msgType uint8, payload []byte) {
	sess := s.Get(userID)
	if sess == nil {
		s.logger.WarnContext(ctx, "can't relay: user is not online", "user_id", userID)
		return
	}
	s.maybeRelay(ctx, sess, msgType, payload)
}

func (s *SessionManager) maybeRelay(ctx context.Context, sess *Session, msgType uint8, payload []byte) {
	switch sess.Relay(msgType, payload) {
	case SessSendClosed:
		s.logger.WarnContext(ctx, "can't relay: session is closed", "session_id", sess.ID())
	case SessQueueFull:
		s.logger.WarnContext(ctx, "can't relay: outbound queue full, disconnecting", "session_id", sess.ID())
		sess.Close()
	}
}
