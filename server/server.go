// Package server is the facade that wires a Listener, a Reactor, a
// task.Pool, and a Router into one startable unit. The builder follows
// the functional-options pattern used throughout z5labs/bedrock's
// rest.App (Option func(*App), Listener/Register/... constructors),
// since this module is a library embedded by caller code, not a CLI.
package server

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/pirkus/nvo-servers/core/poller"
	"github.com/pirkus/nvo-servers/core/reactor"
	"github.com/pirkus/nvo-servers/core/request"
	"github.com/pirkus/nvo-servers/core/router"
	"github.com/pirkus/nvo-servers/core/task"
)

// Server is a built, not-yet-started HTTP server.
type Server struct {
	addr string
	cfg  reactor.Config
	log  *zap.Logger

	workers    int
	router     *router.Router
	listener   *reactor.Listener
	pollr      poller.Poller
	pool       *task.Pool
	rx         *reactor.Reactor
	shutdownCh chan struct{}
}

// Option configures a Server during New.
type Option func(*Server)

// WithWorkerCount overrides the task pool size. <= 0 keeps the
// runtime default (GOMAXPROCS).
func WithWorkerCount(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithReadTimeout is accepted for API symmetry with the configuration
// surface in SPEC_FULL.md §6; the reactor currently enforces
// liveness via the idle sweep rather than a per-read deadline, so this
// sets the idle sweep interval.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.IdleTimeout = d }
}

// WithMaxHeaderBytes bounds request header size.
func WithMaxHeaderBytes(n int) Option {
	return func(s *Server) { s.cfg.Limits.MaxHeaderBytes = n }
}

// WithMaxBodyBytes bounds request body size.
func WithMaxBodyBytes(n int) Option {
	return func(s *Server) { s.cfg.Limits.MaxBodyBytes = n }
}

// WithKeepAlive toggles persistent connections; off by default
// per SPEC_FULL.md's Open Question decision (see DESIGN.md).
func WithKeepAlive(enabled bool) Option {
	return func(s *Server) { s.cfg.KeepAlive = enabled }
}

// WithLogger injects a structured logger; nil is replaced with a
// no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log == nil {
			log = zap.NewNop()
		}
		s.log = log
	}
}

// WithPollTimeout overrides how long the reactor blocks in one
// Poller.Wait call before re-checking for shutdown.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.PollTimeout = d }
}

// New builds a Server bound to addr with the given options applied.
// Handlers are registered on the embedded Router before calling Build.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		cfg:        reactor.DefaultConfig(),
		log:        zap.NewNop(),
		workers:    runtime.GOMAXPROCS(0),
		router:     router.New(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers a handler for (method, pattern) on the server's
// router. It panics if the route conflicts with one already
// registered — a programming error the caller should fix, not a
// runtime condition to recover from.
func (s *Server) Handle(method, pattern string, h router.HandlerFunc) *Server {
	if err := s.router.Handle(method, pattern, h); err != nil {
		panic(err)
	}
	return s
}

// Limits reports the currently configured request limits, matching
// request.Limits so callers can share it with their own clients.
func (s *Server) Limits() request.Limits { return s.cfg.Limits }

// Build binds the listener and constructs the reactor and task pool,
// but does not start serving. Start does that. Build is split out so
// a caller can inspect the bound address (for addr ":0" in tests)
// before Start blocks.
func (s *Server) Build() error {
	ln, err := reactor.Listen(s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}

	p, err := poller.New()
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: create poller: %w", err)
	}

	pool := task.NewPool(s.workers, s.log)

	rx, err := reactor.New(ln, p, pool, s.router, s.log, s.cfg)
	if err != nil {
		pool.Shutdown()
		p.Close()
		ln.Close()
		return fmt.Errorf("server: create reactor: %w", err)
	}

	s.listener = ln
	s.pollr = p
	s.pool = pool
	s.rx = rx
	return nil
}

// Addr returns the bound address. Valid only after Build.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start runs the reactor loop until ctx is cancelled; Shutdown does not
// end the loop. It blocks; callers typically run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	if s.rx == nil {
		if err := s.Build(); err != nil {
			return err
		}
	}
	s.log.Info("server starting", zap.String("addr", s.Addr()), zap.Int("workers", s.workers))
	return s.rx.Run(ctx)
}

// Shutdown tears down the worker pool, poller, and listener. The
// caller is responsible for cancelling the context passed to Start
// first so Run has returned (or is about to); Shutdown does not wait
// on Run itself.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.shutdownCh:
		return nil
	default:
		close(s.shutdownCh)
	}

	done := make(chan struct{})
	go func() {
		if s.pool != nil {
			s.pool.Shutdown()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown deadline exceeded waiting for worker pool drain")
	}

	if s.pollr != nil {
		s.pollr.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	return nil
}
