// Package web provides the HTTP API and pages of the dedupe service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/dedupe/internal/config"
	"github.com/JonMunkholm/dedupe/internal/service"
	"github.com/JonMunkholm/dedupe/internal/storage"
	"github.com/JonMunkholm/dedupe/internal/web/middleware"
)

// Server is the HTTP server for the dedupe API.
type Server struct {
	service *service.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	limiter       *middleware.RateLimiter
	submitLimiter *middleware.RateLimiter
	stop          context.CancelFunc
}

// NewServer creates a Server routing to svc.
func NewServer(svc *service.Service, cfg *config.Config) *Server {
	s := &Server{
		service: svc,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.Rate.RequestsPerMinute)
		s.submitLimiter = middleware.NewRateLimiter(cfg.Rate.SubmitLimit)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/jobs/{jobID}", s.handleJobPage)
	s.router.Handle("/files/*", http.StripPrefix("/files/", s.fileServer()))

	s.router.Route("/api/v0", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		r.With(s.submitRateLimit).Post("/dedupe", s.handleSubmit)
		r.Get("/dedupe", s.handleListJobs)
		r.Get("/dedupe/{jobID}", s.handleStatus)
		r.Get("/dedupe/{jobID}/report", s.handleReport)
		r.Get("/dedupe/{jobID}/events", s.handleEvents)
		r.Post("/dedupe/{jobID}/cancel", s.handleCancel)
		r.Get("/log", s.handleAuditLog)
	})
}

func (s *Server) submitRateLimit(next http.Handler) http.Handler {
	if s.submitLimiter == nil {
		return next
	}
	return s.submitLimiter.Middleware(next)
}

// fileServer serves committed job outputs. Stored inputs, temp files and
// directory listings are not exposed.
func (s *Server) fileServer() http.Handler {
	fs := http.FileServer(http.Dir(s.service.Files().Root()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isOutputPath(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", "attachment")
		fs.ServeHTTP(w, r)
	})
}

// isOutputPath accepts only "<job id>/modif.<ext>".
func isOutputPath(p string) bool {
	key, name, ok := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if !ok || key == "" || strings.HasPrefix(key, ".") || strings.Contains(name, "/") {
		return false
	}
	base, ext, ok := strings.Cut(name, ".")
	return ok && base == storage.OutputName && ext != "" && !strings.Contains(ext, ".")
}

// Start listens until Shutdown is called. Background helpers stop with it.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	for _, rl := range []*middleware.RateLimiter{s.limiter, s.submitLimiter} {
		if rl != nil {
			go rl.Cleanup(ctx, time.Minute)
		}
	}

	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
