// Package server exposes the question pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dopamas/querygate/internal/cache"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

// Service is the pipeline the server fronts. *workflow.Orchestrator
// implements it.
type Service interface {
	Process(ctx context.Context, message, sessionID string) (*workflow.Response, error)
	History(ctx context.Context, sessionID string) ([]cache.Exchange, error)
	ClearHistory(ctx context.Context, sessionID string) error
	Schema(ctx context.Context, refresh bool) (*schema.Snapshot, error)
	Validate(query string, d validator.Dialect) validator.Result
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Config holds server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	AllowAll       bool // allow all CORS origins (dev mode)
	RequestTimeout time.Duration
}

// Server serves the chat, history, schema, validation and health routes.
type Server struct {
	cfg        Config
	svc        Service
	checks     map[string]Check
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server for svc. checks are run by the health endpoint, keyed
// by component name.
func New(cfg Config, svc Service, checks map[string]Check, logger *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		checks: checks,
		logger: logger.With("component", "server"),
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(s.cfg.CORSOrigins) > 0 {
		corsOpts.AllowedOrigins = s.cfg.CORSOrigins
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/chat", s.handleChat)
		r.Get("/chat/history/{sessionID}", s.handleHistory)
		r.Delete("/chat/history/{sessionID}", s.handleClearHistory)
		r.Get("/schema", s.handleSchema)
		r.Post("/query/validate", s.handleValidate)
	})

	return r
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("querygate server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
