package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/beatline/syncserver/state"
)

// ErrRouteNotFound indicates no handler is registered for a message
// type tag. This is not fatal: the frame is logged and discarded
// rather than closing the session.
var ErrRouteNotFound = errors.New("dispatcher: route not found")

// HandlerFunc processes one decoded inbound message for sess. payload
// is the frame's undecoded body; the handler unmarshals it with the
// struct-tag codec and relays any response itself.
type HandlerFunc func(ctx context.Context, d *Dispatcher, sess *state.Session, payload []byte) error

// Router maps message type tags to handlers, mirroring the shape of a
// food-group/subgroup router but flattened to the single-byte message
// type this protocol uses in place of SNAC's group:subgroup pair.
type Router struct {
	entries map[uint8]HandlerFunc
}

// NewRouter creates an empty Router.
func NewRouter() Router {
	return Router{entries: make(map[uint8]HandlerFunc)}
}

// Register associates fn with msgType, overwriting any existing entry.
func (rt Router) Register(msgType uint8, fn HandlerFunc) {
	rt.entries[msgType] = fn
}

// Handle routes to the handler registered for frame.Type, or returns
// ErrRouteNotFound.
func (rt Router) Handle(ctx context.Context, d *Dispatcher, sess *state.Session, msgType uint8, payload []byte) error {
	fn, ok := rt.entries[msgType]
	if !ok {
		return fmt.Errorf("%w: type %#02x", ErrRouteNotFound, msgType)
	}
	return fn(ctx, d, sess, payload)
}
