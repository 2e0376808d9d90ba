// Package server exposes the admin and project-key HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/raakeshmj/keyplane/internal/audit"
	"github.com/raakeshmj/keyplane/internal/circuitbreaker"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/config"
	"github.com/raakeshmj/keyplane/internal/limiter"
	"github.com/raakeshmj/keyplane/internal/metrics"
	"github.com/raakeshmj/keyplane/internal/middleware"
	"github.com/raakeshmj/keyplane/internal/policy"
	"github.com/raakeshmj/keyplane/internal/service"
	"go.uber.org/zap"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Dependencies struct {
	Projects *service.ProjectService
	Keys     *service.APIKeyService
	Users    *service.UserService

	Limiter  limiter.Limiter
	Policies *policy.Engine
	Dynamic  *config.DynamicConfigManager
	Audit    audit.Logger
	Metrics  *metrics.Metrics
	Clock    clock.Clock

	// StoreBreaker sheds admin traffic after consecutive store failures.
	StoreBreaker *circuitbreaker.CircuitBreaker
	// Breakers are reported by the stats endpoint, keyed by name.
	Breakers map[string]*circuitbreaker.CircuitBreaker
	// Checks run on /ready, keyed by dependency name.
	Checks map[string]Check
}

type Server struct {
	cfg  *config.Config
	deps Dependencies
	auth *middleware.AuthMiddleware
	log  *zap.Logger
}

func New(cfg *config.Config, deps Dependencies, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewZapLogger(log)
	}
	if deps.Policies == nil {
		deps.Policies = policy.NewEngine(policy.DefaultPolicies()...)
	}
	if deps.Dynamic == nil {
		deps.Dynamic = config.NewDynamicConfigManager(cfg.Policy())
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		auth: middleware.NewAuth(deps.Users.JWTManager(), deps.Keys, cfg.APIKeyPrefix, log),
		log:  log.Named("server"),
	}
}

// Handler builds the router. The global limiter runs before routing so it
// applies to every path, including unknown ones.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	// Forwarded headers are client-controlled unless a proxy sets them.
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.MetricsMiddleware(s.deps.Metrics))
	r.Use(middleware.SecureHeaders(middleware.SecurityConfig{
		HSTS:         s.cfg.IsProduction(),
		ReplayWindow: s.cfg.ReplayWindow,
	}))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Timestamp"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.AuditMiddleware(s.deps.Audit))
	r.Use(middleware.PolicyEnforcer(s.deps.Policies))
	r.Use(middleware.GlobalRateLimit(s.deps.Limiter, s.deps.Dynamic, s.deps.Metrics))

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.LoginRateLimit(s.cfg.LoginRateLimit)).Post("/auth/login", s.handleLogin)

		r.Method(http.MethodGet, "/self", middleware.Chain(
			http.HandlerFunc(s.handleSelf),
			s.auth.RequireAPIKey,
			middleware.ProjectRateLimit(s.deps.Limiter, s.deps.Metrics),
		))

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.RequireAdmin)
			r.Use(middleware.CircuitBreakerMiddleware(s.deps.StoreBreaker))

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", s.handleCreateProject)
				r.Get("/", s.handleListProjects)
				r.Route("/{projectID}", func(r chi.Router) {
					r.Get("/", s.handleGetProject)
					r.Patch("/", s.handleUpdateProject)
					r.Post("/toggle", s.handleToggleProject)
					r.Get("/credentials", s.handleProjectCredentials)
					r.Post("/keys", s.handleGenerateKey)
					r.Get("/keys", s.handleListProjectKeys)
					r.Delete("/keys", s.handleDeleteProjectKeys)
				})
			})

			r.Route("/keys", func(r chi.Router) {
				r.Get("/", s.handleFindKeysByPrefix)
				r.Route("/{keyID}", func(r chi.Router) {
					r.Get("/", s.handleGetKey)
					r.Patch("/", s.handleUpdateKey)
					r.Delete("/", s.handleDeleteKey)
					r.Post("/revoke", s.handleRevokeKey)
					r.Post("/rotate", s.handleRotateKey)
				})
			})

			r.Get("/ratelimit", s.handleGetRateLimit)
			r.Put("/ratelimit", s.handleUpdateRateLimit)
			r.Get("/policies", s.handleListPolicies)
			r.Put("/policies", s.handleReplacePolicies)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests and
// background key work.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		s.log.Info("shutdown started")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		s.deps.Keys.Wait()
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		s.log.Info("shutdown complete")
	}
	return nil
}
