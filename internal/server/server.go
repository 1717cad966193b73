package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/captchad/captchad/internal/handler"
	"github.com/captchad/captchad/internal/ocr"
	"github.com/captchad/captchad/internal/server/middleware"
	"github.com/captchad/captchad/internal/service"
	"github.com/captchad/captchad/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxImageSize    int64
	AdminUsername   string
	AdminPassword   string
	LoginRatePerMin int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            6688,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxImageSize:    handler.DefaultMaxImageSize,
		LoginRatePerMin: 10,
	}
}

// Server is the top-level HTTP server. It owns the Chi router and wires the
// authorization gate in front of every recognition route.
type Server struct {
	cfg        Config
	router     chi.Router
	gate       *service.Gate
	tokens     *service.Tokens
	sessions   *service.SessionStore
	engine     ocr.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired, ready to
// listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, gate *service.Gate, tokens *service.Tokens, sessions *service.SessionStore, engine ocr.Engine, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		gate:     gate,
		tokens:   tokens,
		sessions: sessions,
		engine:   engine,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Health check (no auth required) ---
	r.Get("/healthz", s.handleHealthz)

	// --- Recognition API: every route behind the token gate ---
	ocrHandler := handler.NewOCRHandler(s.engine, s.cfg.MaxImageSize)
	r.Route("/api/ocr", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.gate))

		r.Post("/image", ocrHandler.Image)
		r.Post("/number", ocrHandler.Number)
		r.Post("/compute", ocrHandler.Compute)
		r.Post("/alphabet", ocrHandler.Alphabet)
		r.Post("/detection", ocrHandler.Detection)
		r.Post("/slider/gap", ocrHandler.SliderGap)
		r.Post("/slider/shadow", ocrHandler.SliderShadow)
	})

	// --- Admin API ---
	adminHandler := handler.NewAdminHandler(s.tokens, s.sessions, s.cfg.AdminUsername, s.cfg.AdminPassword)
	r.Route("/api/admin", func(r chi.Router) {
		r.With(middleware.LoginRateLimit(s.cfg.LoginRatePerMin)).Post("/login", adminHandler.Login)
		r.Post("/logout", adminHandler.Logout)
		r.Get("/token/status", adminHandler.Status)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.sessions))

			r.Post("/token", adminHandler.CreateToken)
			r.Put("/token", adminHandler.UpdateToken)
			r.Delete("/token/{id}", adminHandler.DeleteToken)
			r.Post("/token/{id}/reset_usage", adminHandler.ResetUsage)
			r.Get("/tokens", adminHandler.ListTokens)
			r.Get("/token/{id}", adminHandler.GetToken)
		})
	})

	// --- Embedded admin pages ---
	r.Get("/admin/login", s.servePage(ui.LoginPage))
	r.With(middleware.RequirePageSession(s.sessions, "/admin/login")).
		Get("/admin", s.servePage(ui.TokensPage))

	s.router = r
}

// servePage returns a handler serving one embedded HTML page.
func (s *Server) servePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := ui.Static.ReadFile(path)
		if err != nil {
			http.Error(w, "page not available", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received, then performs a graceful shutdown draining in-flight requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
