// Package gateway is the HTTP front end agents use to queue messages and
// reviewers use to decide on them.
//
// Agent routes authenticate every request with an API key. Management routes
// (queue listing, approve, deny) trust the peer address alone and only answer
// loopback clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sipico/comms-gateway/internal/auth"
	"github.com/sipico/comms-gateway/internal/filter"
	"github.com/sipico/comms-gateway/internal/logging"
	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/middleware"
	"github.com/sipico/comms-gateway/internal/ratelimit"
	"github.com/sipico/comms-gateway/internal/storage"
)

// Defaults for Server options.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 30 * time.Second
)

// Store is the persistence the HTTP handlers need.
type Store interface {
	ListAllowlist(ctx context.Context, keyID int64) ([]*storage.AllowlistEntry, error)
	InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) (string, error)
	GetQueueEntry(ctx context.Context, id string) (*storage.QueueEntry, error)
	ListPendingAndFlagged(ctx context.Context) ([]*storage.QueueEntry, error)
	CountPending(ctx context.Context) (int, error)
}

// ConsentChecker reports whether a contact accepts AI-originated messages.
type ConsentChecker interface {
	ContactAllowsAI(ctx context.Context, address string) (bool, error)
}

// Reviewer decides on queued messages.
type Reviewer interface {
	Approve(ctx context.Context, id string) (*storage.QueueEntry, error)
	Deny(ctx context.Context, id string) (*storage.QueueEntry, error)
}

// Deps are the components a Server is assembled from.
type Deps struct {
	Store    Store
	Consent  ConsentChecker
	Auth     *auth.Authenticator
	Limiter  *ratelimit.Limiter
	Filters  *filter.Engine
	Reviewer Reviewer
	Logger   *slog.Logger
}

// Server serves the gateway API.
type Server struct {
	Deps

	version         string
	requestTimeout  time.Duration
	maxBodyBytes    int64
	shutdownTimeout time.Duration
	now             func() time.Time
	startedAt       time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithRequestTimeout sets the read and write timeouts of the HTTP server.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithClock replaces the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
// If deps.Logger is nil, slog.Default() will be used.
func New(deps Deps, opts ...Option) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		Deps:            deps,
		version:         "dev",
		requestTimeout:  DefaultRequestTimeout,
		maxBodyBytes:    DefaultMaxBodyBytes,
		shutdownTimeout: DefaultShutdownTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

// Router returns the chi router with every gateway route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	r.Use(middleware.MaxBodySize(s.maxBodyBytes))
	r.Use(middleware.HTTPLogging(s.Logger, logging.BodyAllowlist))
	r.Use(chimw.Recoverer)

	r.Route("/gateway", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.Auth))
			r.Get("/health", s.handleHealth)
			r.Post("/send", s.handleSend)
			r.Get("/actions/{id}", s.handleAction)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.localOnly)
			r.Get("/queue", s.handleQueue)
			r.Post("/queue/{id}/approve", s.handleApprove)
			r.Post("/queue/{id}/deny", s.handleDeny)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// Run listens on addr until ctx is cancelled, then drains in-flight
// requests for up to the shutdown timeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       s.requestTimeout,
		ReadHeaderTimeout: s.requestTimeout,
		WriteTimeout:      s.requestTimeout,
		IdleTimeout:       2 * s.requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("gateway listening", "addr", ln.Addr().String(), "version", s.version)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// localOnly admits requests whose peer address is loopback. Forwarding
// headers are ignored.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			middleware.Logger(r.Context(), s.Logger).Warn("rejected non-local management request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, s.Logger, ErrLocalOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
