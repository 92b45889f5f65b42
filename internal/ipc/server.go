package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/argus/internal/fsm"
	"github.com/rbright/argus/internal/lockmarker"
)

const listenRetries = 2

// Dispatcher runs one session over an accepted channel.
type Dispatcher interface {
	Dispatch(context.Context, *Channel) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(context.Context, *Channel) error

func (f DispatcherFunc) Dispatch(ctx context.Context, ch *Channel) error {
	return f(ctx, ch)
}

// ServerConfig locates the endpoint and bounds the accept loop.
type ServerConfig struct {
	SocketPath       string
	LockPath         string
	PollInterval     time.Duration
	HandshakeTimeout time.Duration
	ProbeTimeout     time.Duration
	Limits           Limits
}

// Server is the singleton accept loop. It dispatches at most one session at a time.
type Server struct {
	cfg        ServerConfig
	dispatcher Dispatcher
	logger     *slog.Logger

	quit     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	state fsm.ServerState

	sessions atomic.Int64
}

// NewServer constructs an idle server.
func NewServer(cfg ServerConfig, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 2 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		stopCh:     make(chan struct{}),
		state:      fsm.ServerIdle,
	}
}

// State returns the current loop phase.
func (s *Server) State() fsm.ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sessions returns how many sessions have been dispatched.
func (s *Server) Sessions() int64 {
	return s.sessions.Load()
}

// Stop asks the loop to exit. An in-flight session is allowed to finish.
func (s *Server) Stop() {
	s.quit.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Start owns the lock marker and endpoint and serves clients until Stop,
// context cancellation, or a fatal transport error.
func (s *Server) Start(ctx context.Context) error {
	marker, tookOver, err := lockmarker.Acquire(s.cfg.LockPath)
	if err != nil {
		s.transition(fsm.ServerEventStop)
		if errors.Is(err, lockmarker.ErrHeld) {
			return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return err
	}
	defer func() {
		if err := marker.Release(); err != nil {
			s.logger.Error("release lock marker failed", "path", s.cfg.LockPath, "error", err.Error())
		}
		s.transition(fsm.ServerEventStop)
	}()
	if tookOver {
		s.logger.Warn("replaced stale lock marker", "path", s.cfg.LockPath)
	}

	listener, err := Listen(ctx, s.cfg.SocketPath, s.cfg.ProbeTimeout, listenRetries)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("endpoint already claimed: is another instance of the server running?", "socket", s.cfg.SocketPath)
		} else {
			s.logger.Error("listen failed; stopping", "socket", s.cfg.SocketPath, "error", err.Error())
		}
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()

	s.logger.Info("server started", "socket", s.cfg.SocketPath, "lock", s.cfg.LockPath)

	conns := make(chan net.Conn)
	acceptErrs := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.acceptLoop(listener, conns, acceptErrs)
	}()
	defer func() {
		_ = listener.Close()
		wg.Wait()
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for !s.quit.Load() {
		if err := marker.Refresh(); err != nil {
			s.logger.Error("refresh lock marker failed; stopping", "error", err.Error())
			s.Stop()
			return fmt.Errorf("refresh lock marker: %w", err)
		}
		s.transition(fsm.ServerEventListen)

		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		case err := <-acceptErrs:
			s.logger.Error("unclassified transport error; stopping", "error", err.Error())
			s.Stop()
			return fmt.Errorf("accept IPC connection: %w", err)
		case conn := <-conns:
			if err := s.serveConn(ctx, conn); err != nil {
				s.logger.Error("unclassified transport error; stopping", "error", err.Error())
				s.Stop()
				return err
			}
		case <-ticker.C:
			s.transition(fsm.ServerEventTimeout)
		}
	}

	s.logger.Info("server stopped", "sessions", s.sessions.Load())
	return nil
}

// acceptLoop hands accepted connections to the control loop. A connection
// the control loop does not take within one poll interval is told busy.
func (s *Server) acceptLoop(listener net.Listener, conns chan<- net.Conn, acceptErrs chan<- error) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.quit.Load() {
				return
			}
			acceptErrs <- err
			return
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case conns <- conn:
		case <-timer.C:
			s.rejectBusy(conn)
		case <-s.stopCh:
			s.rejectBusy(conn)
		}
		timer.Stop()
	}
}

func (s *Server) rejectBusy(conn net.Conn) {
	defer conn.Close()
	if err := writeHandshake(conn, handshakeBusy, s.cfg.HandshakeTimeout); err != nil {
		s.logger.Debug("busy reply not delivered", "error", err.Error())
		return
	}
	s.logger.Info("rejected client while busy")
}

// serveConn runs one session to completion. The connection is released
// whatever the outcome; only unclassified transport errors are returned.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	s.transition(fsm.ServerEventConnect)

	if err := writeHandshake(conn, handshakeReady, s.cfg.HandshakeTimeout); err != nil {
		if isBrokenPipe(err) || errors.Is(err, os.ErrDeadlineExceeded) {
			s.logger.Info("client went away before use", "error", err.Error())
			s.transition(fsm.ServerEventAbandon)
			return nil
		}
		return fmt.Errorf("write handshake: %w", err)
	}

	ch := NewChannel(conn, s.cfg.Limits)
	s.transition(fsm.ServerEventDispatch)
	s.sessions.Add(1)
	defer s.transition(fsm.ServerEventComplete)

	if err := s.dispatch(ctx, ch); err != nil {
		s.logger.Error("worker session failed", "error", err.Error())
	}
	return nil
}

// dispatch runs the dispatcher; a panic ends only this session.
func (s *Server) dispatch(ctx context.Context, ch *Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(context.WithoutCancel(ctx), ch)
}

func (s *Server) transition(event fsm.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fsm.ServerTransition(s.state, event)
	if err != nil {
		s.logger.Debug("server state unchanged", "state", s.state, "event", event, "error", err.Error())
		return
	}
	s.state = next
}
