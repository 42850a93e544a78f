package dispatcher

import (
	"sync"
	"time"

	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// authTimers tracks the one-shot AUTH_TIMEOUT deadline armed for each
// session between Hello and a successful Authenticate.
type authTimers struct {
	mutex sync.Mutex
	byID  map[string]*time.Timer
}

func newAuthTimers() *authTimers {
	return &authTimers{byID: make(map[string]*time.Timer)}
}

func (a *authTimers) arm(d *Dispatcher, sess *state.Session) {
	t := time.AfterFunc(d.cfg.AuthTimeout, func() {
		if sess.Phase() == state.PhaseAwaitingAuth {
			d.logger.Info("auth timeout", "session_id", sess.ID())
			_, _ = sess.RelayMessage(wire.TypeError, wire.Error{
				Code:    wire.CodeAuthTimeout,
				Message: "authentication window elapsed",
			})
			sess.Close()
		}
	})

	a.mutex.Lock()
	a.byID[sess.ID()] = t
	a.mutex.Unlock()
}

func (a *authTimers) cancel(sessID string) {
	a.mutex.Lock()
	t, ok := a.byID[sessID]
	delete(a.byID, sessID)
	a.mutex.Unlock()
	if ok {
		t.Stop()
	}
}
