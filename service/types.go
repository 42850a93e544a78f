// Package service implements the business-logic operations behind each
// client-facing protocol message: authentication, room membership and
// lifecycle, and the admin actions exposed over HTTP. Methods receive a
// session and a decoded request, and return either a response value or
// a *wire.ProtocolError the dispatcher translates into an Error frame.
//
// Collaborators (session registry, room registry, ban registry, audit
// log, identity resolution) are received as narrow interfaces so the
// identity service and the audit store can be replaced by fakes in
// tests. The interfaces are written in terms of state and identity
// types, so this package imports those two packages.
package service

import (
	"context"

	"github.com/beatline/syncserver/identity"
	"github.com/beatline/syncserver/state"
)

// IdentityResolver exchanges a bearer token for the identity of its
// owner.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity.User, error)
}

// SessionRegistry is the subset of state.SessionManager the service
// layer depends on.
type SessionRegistry interface {
	Add(ctx context.Context, userID uint32, sess *state.Session) error
	Remove(userID uint32, sess *state.Session)
	Get(userID uint32) *state.Session
	All() []*state.Session
	Count() int
}

// RoomManager is the subset of state.RoomRegistry the service layer
// depends on.
type RoomManager interface {
	Create(name string, capacity uint8, creator state.Member, notify func(state.Change)) (*state.Room, error)
	Join(roomID string, m state.Member) (*state.Room, error)
	Leave(userID uint32)
	Get(roomID string) (*state.Room, error)
	RoomForUser(userID uint32) (string, bool)
	List() []state.Snapshot
}

// BanChecker is the subset of state.BanRegistry the service layer
// depends on.
type BanChecker interface {
	Add(entry state.BanEntry) error
	Remove(kind state.BanKind, target string)
	Check(userID uint32, ip string) (state.BanEntry, bool)
	List() []state.BanEntry
	SetWhitelists(ids []uint32, ips []string)
	Whitelists() ([]uint32, []string)
}

// AuditRecorder persists a record of a moderation or admin action.
// Implemented by the audit package's sqlite-backed store.
type AuditRecorder interface {
	Record(ctx context.Context, action, actor string, targetUserID uint32, detail string) error
}
