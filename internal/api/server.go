// Package api exposes the dashboard's REST and SSE surface: run lifecycle,
// batch jobs, scenario listing, configuration editing with dirty tracking,
// and the navigation guard.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"simdeck/internal/batch"
	"simdeck/internal/core"
	"simdeck/internal/dirty"
	"simdeck/internal/events"
	"simdeck/internal/history"
	"simdeck/internal/lifecycle"
	"simdeck/internal/poll"
)

// EngineGateway is the slice of the engine client the handlers call directly.
type EngineGateway interface {
	dirty.Saver
	StartBatch(ctx context.Context, job *core.BatchJob) error
	ListScenarios(ctx context.Context, workspace core.WorkspaceID) ([]core.Scenario, error)
}

// Deps carries the components the server serves.
type Deps struct {
	Lifecycle  *lifecycle.Service
	Aggregator *batch.Aggregator
	Reconciler *poll.Reconciler
	Tracker    *dirty.Tracker
	Guard      *dirty.Guard
	Engine     EngineGateway
	History    *history.Store
	Bus        *events.EventBus
	Workspace  core.WorkspaceID
}

// Server provides the dashboard HTTP API.
type Server struct {
	router chi.Router
	deps   Deps
	logger *slog.Logger

	corsOrigins []string
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins sets the allowed CORS origins for the browser UI.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates the API server.
func NewServer(deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		deps:        deps,
		logger:      slog.Default(),
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/active", s.handleActiveRun)
			r.Post("/cancel", s.handleCancelRun)
			r.Post("/reset", s.handleResetRun)
			r.Get("/history", s.handleRunHistory)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.handleStartBatch)
			r.Get("/", s.handleListBatches)
			r.Get("/history", s.handleBatchHistory)
			r.Get("/{batchID}", s.handleGetBatch)
		})

		r.Get("/scenarios", s.handleListScenarios)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/", s.handlePutConfig)
			r.Get("/dirty", s.handleDirtySections)
			r.Post("/save", s.handleSaveConfig)
			r.Post("/discard", s.handleDiscardConfig)
		})

		r.Post("/navigate", s.handleNavigate)

		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests. The SSE endpoint is skipped because
// its requests stay open for the life of the client.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/events" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("api server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
