package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/rxwatch/internal/dashboard"
	"github.com/opensource-finance/rxwatch/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, views *dashboard.Service, upstream domain.PredictionService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	handler := NewHandler(views, upstream, version, logger)
	router := chi.NewRouter()

	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Get("/dashboard", handler.Dashboard)
	router.Get("/overview", handler.Overview)
	router.Get("/history/rows", handler.Rows)

	router.Route("/prescriptions", func(r chi.Router) {
		r.Get("/defaults", handler.PrescriptionDefaults)
		r.Post("/", handler.SubmitPrescription)
	})

	s := &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
