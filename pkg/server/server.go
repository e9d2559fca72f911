// Package server exposes the HTTP API: session registration, ad-hoc
// command execution and workflow management, wrapped in login, rate
// limit, metrics and logging middleware.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/relayforge/relayforge/internal/governance"
	"github.com/relayforge/relayforge/pkg/command"
	"github.com/relayforge/relayforge/pkg/executor"
	"github.com/relayforge/relayforge/pkg/orchestrator"
	"github.com/relayforge/relayforge/pkg/secrets"
	"github.com/relayforge/relayforge/pkg/storage"
	"github.com/relayforge/relayforge/pkg/urlguard"
)

// Options collects the server's collaborators and settings. Password
// empty disables login enforcement, the single-user development mode.
type Options struct {
	Address      string
	Password     string
	Sessions     storage.SessionStore
	Workflows    storage.WorkflowStore
	Guard        *urlguard.Guard
	Builder      *command.Builder
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	Limiter      *governance.Limiter
	Cipher       *secrets.Cipher
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Server is the HTTP front of the gateway.
type Server struct {
	addr         string
	password     string
	authEnabled  bool
	sessions     storage.SessionStore
	workflows    storage.WorkflowStore
	guard        *urlguard.Guard
	builder      *command.Builder
	executor     *executor.Executor
	orchestrator *orchestrator.Orchestrator
	limiter      *governance.Limiter
	cipher       *secrets.Cipher
	tokens       *TokenStore
	metrics      *Metrics
	logger       *slog.Logger
	httpServer   *http.Server
}

// New wires a Server from its collaborators.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Guard == nil {
		opts.Guard = urlguard.New()
	}
	return &Server{
		addr:         opts.Address,
		password:     opts.Password,
		authEnabled:  opts.Password != "",
		sessions:     opts.Sessions,
		workflows:    opts.Workflows,
		guard:        opts.Guard,
		builder:      opts.Builder,
		executor:     opts.Executor,
		orchestrator: opts.Orchestrator,
		limiter:      opts.Limiter,
		cipher:       opts.Cipher,
		tokens:       NewTokenStore(DefaultTokenTTL),
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

// Tokens exposes the login token store for periodic sweeping.
func (s *Server) Tokens() *TokenStore {
	return s.tokens
}

// Handler builds the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/execute", s.handleExecute)

	mux.HandleFunc("POST /api/workflows", s.handleSaveWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /api/workflows/runs/{id}", s.handleGetRun)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = NewRateLimitMiddleware(s.limiter, s.metrics, s.logger).Wrap(handler)
	}
	handler = NewSessionGuard(s.tokens, s.authEnabled, s.logger).Wrap(handler)
	handler = s.metrics.Middleware(handler)
	handler = NewLoggingMiddleware(s.logger).Wrap(handler)
	return handler
}

// Start runs the HTTP server until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           otelhttp.NewHandler(s.Handler(), "relayforge.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "address", s.addr, "auth_enabled", s.authEnabled)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
