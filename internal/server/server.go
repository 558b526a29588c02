// Package server sets up the HTTP router, middleware, and the routes the
// virtual chef exposes.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/haykal-fe-verd/reseply-sub001/internal/config"
	"github.com/haykal-fe-verd/reseply-sub001/internal/ratelimit"
)

// Deps are the collaborators the router hands requests to. Only Chat is
// required.
type Deps struct {
	// Chat serves POST /api/chat.
	Chat http.Handler

	// Limiter throttles the chat route when non-nil.
	Limiter ratelimit.Limiter
	// OnRateLimited is called for every request the limiter turns away.
	OnRateLimited func()

	// Gatherer backs GET /metrics when non-nil.
	Gatherer prometheus.Gatherer

	Log zerolog.Logger
}

// Server holds the HTTP router and everything its handlers need.
type Server struct {
	router chi.Router
	cfg    *config.Config
	deps   Deps
}

// New creates a Server with routes and middleware wired, ready to use as
// an http.Handler.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.routes()
	return s
}

// routes builds the chi router. The whole routing table lives here so it's
// easy to scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	// Forwarded headers are client-controlled unless a proxy rewrites
	// them, and the rate limiter keys on the resulting address.
	if s.cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Chat-Id", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(requestLogger(s.deps.Log))
	// Recoverer turns handler panics into a 500, except http.ErrAbortHandler
	// which it re-panics so net/http can cut a streaming response short.
	r.Use(middleware.Recoverer)

	// --- Routes ---
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.deps.Limiter != nil {
			r.Use(ratelimit.Middleware(s.deps.Limiter, s.deps.Log, s.deps.OnRateLimited))
		}
		r.Post("/api/chat", s.deps.Chat.ServeHTTP)
	})

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler by delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
