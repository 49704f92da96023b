// Package server exposes the HTTP API: ingestion and task control, search,
// chat, and the read-only listing endpoints. Every route except the liveness
// probe sits behind the pre-shared X-API-Key header.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/councilkb/councilkb/internal/chat"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/queue"
	"github.com/councilkb/councilkb/internal/retrieval"
	"github.com/councilkb/councilkb/internal/store"
)

// Server is the HTTP front-end.
type Server struct {
	store    *store.Store
	queue    *queue.Queue
	engine   *retrieval.Engine
	chat     *chat.Service
	settings *config.Settings
	logger   *slog.Logger

	router *chi.Mux
	http   *http.Server
}

// New wires the routes.
func New(s *store.Store, q *queue.Queue, e *retrieval.Engine, c *chat.Service,
	cfg *config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{store: s, queue: q, engine: e, chat: c, settings: cfg, logger: logger}
	srv.router = chi.NewRouter()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/ingest/folder", s.handleIngestFolder)
		r.Get("/tasks/{taskID}", s.handleTaskStatus)
		r.Delete("/tasks/{taskID}", s.handleTaskCancel)

		r.Post("/search", s.handleSearch)

		r.Post("/chat", s.handleChat)
		r.Get("/chat/history/{sessionID}", s.handleChatHistory)
		r.Delete("/chat/history/{sessionID}", s.handleChatDelete)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{documentID}", s.handleGetDocument)
		r.Post("/documents/{documentID}/reprocess", s.handleReprocess)

		r.Get("/references", s.handleListReferences)
		r.Get("/events", s.handleListEvents)
		r.Get("/stats", s.handleStats)
	})
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.settings.Server.Bind, fmt.Sprintf("%d", s.settings.Server.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed; %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.settings.Server.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
