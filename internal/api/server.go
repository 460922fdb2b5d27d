// Package api is the HTTP surface of the bridge: the client WebSocket, a
// command endpoint, session status, the run log and the operator event feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/debugbridge/internal/auth"
	"github.com/mattjoyce/debugbridge/internal/client"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/orchestrator"
	"github.com/mattjoyce/debugbridge/internal/protocol"
	"github.com/mattjoyce/debugbridge/internal/state"
)

// Session is the orchestrator as seen by the API.
type Session interface {
	Handle(ctx context.Context, cmd *protocol.Command) (bool, error)
	Status(ctx context.Context) (orchestrator.Status, error)
}

// RunLog reads stored launches.
type RunLog interface {
	List(ctx context.Context, limit int) ([]state.RunRecord, error)
	Get(ctx context.Context, id string) (*state.RunRecord, error)
}

// Feed is the operator event stream. *events.Hub implements it.
type Feed interface {
	Publish(eventType string, data any)
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey grants every scope.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	session   Session
	runs      RunLog
	feed      Feed
	slot      *client.Slot
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, session Session, runs RunLog, feed Feed, slot *client.Slot, logger *slog.Logger) *Server {
	return &Server{
		config:  config,
		session: session,
		runs:    runs,
		feed:    feed,
		slot:    slot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// IDE frontends are served from their own origin; the bearer
			// token is the access check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		if c := s.slot.Current(); c != nil {
			_ = c.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeSessionWrite)).Get("/ws", s.handleWS)
		r.With(s.requireScopes(auth.ScopeSessionWrite)).Post("/command", s.handleCommand)

		r.With(s.requireScopes(auth.ScopeSessionRead)).Get("/status", s.handleStatus)
		r.With(s.requireScopes(auth.ScopeSessionRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeSessionRead)).Get("/runs", s.handleListRuns)
		r.With(s.requireScopes(auth.ScopeSessionRead)).Get("/runs/{runID}", s.handleGetRun)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
