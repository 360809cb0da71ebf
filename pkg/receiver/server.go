package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rescp17/lantransfer/pkg/transfer"
)

var (
	ErrAlreadyRunning = errors.New("server is already running")
)

// CompletionHandler is told about every file stored successfully. It runs on
// its own goroutine, after the peer has been answered.
type CompletionHandler func(transfer.Completion)

type Option func(*Server)

// WithCompletionHandler registers h to receive completed transfers.
func WithCompletionHandler(h CompletionHandler) Option {
	return func(s *Server) {
		s.onComplete = h
	}
}

// WithClock overrides the time source used for session timing and progress.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server accepts a single peer over TCP and receives one file at a time.
// All protocol state lives on one event-loop goroutine; the Server itself
// only manages the lifecycle around it.
type Server struct {
	cfg        Config
	pub        *Publisher
	onComplete CompletionHandler
	now        func() time.Time
	finalize   func(*transfer.Session, string) (string, error)

	mu       sync.Mutex
	listener net.Listener
	loop     *eventLoop

	// background tracks deferred file cleanup and completion callbacks.
	background sync.WaitGroup
}

// NewServer validates cfg and returns an idle server.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver configuration: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		finalize: finalizeSession,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pub = NewPublisher(State{Status: transfer.StatusIdle, UpdatedAt: s.now()})
	return s, nil
}

// Start binds the listening socket and starts serving. The server stops when
// ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop != nil {
		return ErrAlreadyRunning
	}

	prev := s.pub.Snapshot()
	s.pub.Publish(State{Status: transfer.StatusStarting, LastCompletion: prev.LastCompletion, UpdatedAt: s.now()})

	if err := s.prepareDirs(); err != nil {
		s.fail(err)
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr())
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
		s.fail(err)
		return err
	}

	s.listener = ln
	s.loop = newEventLoop(s, ln.Addr().String(), prev.LastCompletion)
	go s.loop.run()
	go s.acceptLoop(ln, s.loop)

	slog.Info("Receiver listening", "addr", ln.Addr().String(), "device", s.cfg.DeviceName)

	loop := s.loop
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				slog.Warn("Error stopping receiver", "error", err)
			}
		case <-loop.done:
		}
	}()
	return nil
}

func (s *Server) prepareDirs() error {
	for _, dir := range []string{s.cfg.TempDir, s.cfg.DestinationDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Server) fail(err error) {
	slog.Error("Receiver failed to start", "error", err)
	st := s.pub.Snapshot()
	st.Status = transfer.StatusError
	st.LastError = err.Error()
	st.UpdatedAt = s.now()
	s.pub.Publish(st)
}

// Stop closes the listener, tears down the peer and any transfer, and
// returns the server to IDLE. Calling Stop on a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop == nil {
		return nil
	}

	var err error
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = fmt.Errorf("failed to close listener: %w", cerr)
	}
	s.loop.stop()
	s.background.Wait()

	s.loop = nil
	s.listener = nil
	slog.Info("Receiver stopped")
	return err
}

// Addr returns the bound listening address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns the latest snapshot.
func (s *Server) State() State {
	return s.pub.Snapshot()
}

// Subscribe registers fn for every state change and returns a function
// that removes it.
func (s *Server) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.pub.Subscribe(fn)
}

// Config returns the configuration the server was created with.
func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) acceptLoop(ln net.Listener, loop *eventLoop) {
	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			slog.Warn("Accept failed, retrying", "error", err, "delay", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		if !loop.post(acceptEvent{conn: conn}) {
			conn.Close()
			return
		}
	}
}

// goBackground runs fn off the event loop. Stop waits for it.
func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}
