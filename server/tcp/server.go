// Package tcp is the TCP transport for the game protocol. It owns the
// accept loop, per-connection read/write goroutines, and graceful
// shutdown: a tracked-connection-set plus waitgroup lifecycle driving
// a single flat frame dispatch loop per connection.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/beatline/syncserver/dispatcher"
	"github.com/beatline/syncserver/logging"
	"github.com/beatline/syncserver/state"
	"github.com/beatline/syncserver/wire"
)

// Config bounds the TCP listener's behavior.
type Config struct {
	ListenAddr       string
	UseProxyProtocol bool
	// MaxConnections caps simultaneously accepted connections. Zero
	// disables the cap.
	MaxConnections int
	IPHandshakeRate  rate.Limit
	IPHandshakeBurst int
	IPGateTTL        time.Duration
	IPWhitelist      []string
}

// Server accepts TCP connections and runs each through the
// dispatcher's protocol handling for its lifetime.
type Server struct {
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
	gate       *ipGate

	listenerMu sync.RWMutex
	listener   net.Listener
	ready      chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	connWg   sync.WaitGroup
	listenWg sync.WaitGroup

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closed         chan struct{}
}

// New builds a Server. d handles every accepted connection's frames
// once a session exists for it.
func New(d *dispatcher.Dispatcher, cfg Config, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:            cfg,
		dispatcher:     d,
		logger:         logger,
		gate:           newIPGate(cfg.IPHandshakeRate, cfg.IPHandshakeBurst, cfg.IPGateTTL, cfg.IPWhitelist),
		conns:          make(map[net.Conn]struct{}),
		ready:          make(chan struct{}),
		closed:         make(chan struct{}),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// ListenAndServe binds the listener and accepts connections until
// Shutdown is called. It blocks for the life of the server.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.shutdownCancel()
		return fmt.Errorf("tcp: failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutilLimitListener(ln, s.cfg.MaxConnections)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.ready)

	s.logger.Info("tcp listener started", "addr", s.cfg.ListenAddr, "max_connections", s.cfg.MaxConnections)

	s.listenWg.Add(1)
	go s.acceptLoop(ln)

	<-s.closed
	return nil
}

// Shutdown closes the listener and every tracked connection, then
// waits for their goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("tcp: initiating graceful shutdown")
	s.shutdownCancel()
	s.listenerMu.RLock()
	ln := s.listener
	s.listenerMu.RUnlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		s.listenWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("tcp: shutdown complete")
	case <-ctx.Done():
		s.logger.Info("tcp: shutdown deadline reached, connections may not have closed cleanly")
	}

	close(s.closed)
	return nil
}

// Ready is closed once the listener is bound and accepting
// connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listener's bound address. Only valid after Ready
// is closed.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.listenWg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("tcp: accept error", "err", err.Error())
			continue
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.connWg.Add(1)
		go s.handleConnection(s.shutdownCtx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
		s.connWg.Done()
	}()

	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}
	if !s.gate.Allow(ip) {
		s.logger.Warn("tcp: handshake rate limited", "ip", ip)
		return
	}

	reader := bufio.NewReader(conn)
	remoteAddr := conn.RemoteAddr().String()
	if s.cfg.UseProxyProtocol {
		addr, ok, err := wire.ConsumeProxyHeader(reader)
		if err != nil {
			s.logger.Warn("tcp: invalid proxy header", "ip", ip, "err", err.Error())
			return
		}
		if ok && addr != "" {
			remoteAddr = addr
		}
	}

	sess := state.NewSession(uuid.NewString(), remoteAddr)
	ctx = logging.WithSessionID(ctx, sess.ID())
	ctx = logging.WithIP(ctx, remoteAddr)

	// Close the underlying connection as soon as the session is
	// closed from any direction (keepalive timeout, fatal protocol
	// error, or shutdown), unblocking the read loop's blocking Read.
	go func() {
		<-sess.Closed()
		_ = conn.Close()
	}()

	go s.writeLoop(conn, sess)
	go s.dispatcher.RunKeepalive(ctx, sess)

	s.readLoop(ctx, conn, reader, sess)

	s.dispatcher.Disconnect(sess)
}

func (s *Server) writeLoop(conn net.Conn, sess *state.Session) {
	for {
		select {
		case out, ok := <-sess.Outbound():
			if !ok {
				return
			}
			if err := wire.WriteFrame(conn, out.Type, out.Payload); err != nil {
				sess.Close()
				return
			}
		case <-sess.Closed():
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, r *bufio.Reader, sess *state.Session) {
	maxLen := s.dispatcher.MaxFrameLength()
	for {
		frame, err := wire.ReadFrame(r, maxLen)
		if err != nil {
			if !sess.IsClosed() {
				if errors.Is(err, wire.ErrFrameTooLarge) || errors.Is(err, wire.ErrEmptyFrame) {
					s.logger.WarnContext(ctx, "tcp: protocol violation", "session_id", sess.ID(), "err", err.Error())
					s.failFrame(conn, sess, wire.CodeProtocolViolation, "malformed frame")
				} else {
					s.logger.DebugContext(ctx, "tcp: connection closed", "session_id", sess.ID(), "err", err.Error())
				}
			}
			sess.Close()
			return
		}
		s.dispatcher.Dispatch(ctx, sess, frame)
		if sess.IsClosed() {
			return
		}
	}
}

// failFrame writes an Error frame directly to conn before the session
// is torn down. It bypasses the outbound queue (the write goroutine is
// about to be interrupted by Close) so the client sees the reason for
// the disconnect rather than a bare connection reset.
func (s *Server) failFrame(conn net.Conn, sess *state.Session, code uint16, message string) {
	if err := wire.EncodeFrame(conn, wire.TypeError, wire.Error{Code: code, Message: message}); err != nil {
		s.logger.Debug("tcp: failed to flush error frame", "session_id", sess.ID(), "err", err.Error())
	}
}
