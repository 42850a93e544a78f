package dispatcher

import (
	"context"
	"time"

	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// RunKeepalive sends Ping to sess on d's configured interval and
// terminates the session if no inbound frame has arrived within 2x
// that interval. It blocks until ctx is done or sess closes, so the
// caller should run it in its own goroutine per connection.
func (d *Dispatcher) RunKeepalive(ctx context.Context, sess *state.Session) {
	interval := d.cfg.KeepaliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Closed():
			return
		case <-ticker.C:
			if time.Since(sess.LastActivity()) > 2*interval {
				d.logger.Info("keepalive timeout", "session_id", sess.ID())
				sess.Close()
				return
			}
			if sess.Phase() == state.PhaseAuthenticated || sess.Phase() == state.PhaseInRoom {
				_, _ = sess.RelayMessage(wire.TypePing, wire.Ping{})
			}
		}
	}
}
