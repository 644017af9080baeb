// Package core provides the API chassis for the newsletter admin API.
// It creates a chi router usable both as a standard HTTP server (local dev)
// and behind AWS Lambda Proxy Integration. Cross-cutting concerns (panic
// recovery, request IDs, logging, authentication and error formatting) are
// applied before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bulletin/internal/config"
	"bulletin/internal/types"
)

// RouteRegistrar mounts a set of handlers onto the /v1 router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the admin API so tests can inject
// fakes and environments can differ in configuration only.
type Server struct {
	Config   *config.Config
	Logger   *slog.Logger
	Identity types.IdentityProvider

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are populated by the entry point; core does not
	// import handler packages.
	V1RouteRegistrars []RouteRegistrar

	// Closers are released on Shutdown in order.
	Closers []func() error

	router *chi.Mux
}

// NewServer validates critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes after registering handlers.
func NewServer(cfg *config.Config, identity types.IdentityProvider, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:   cfg,
		Logger:   logger,
		Identity: identity,
		router:   chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases every registered closer. All closers run even when an
// earlier one fails; the first error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var first error
	for _, closeFn := range s.Closers {
		if err := closeFn(); err != nil {
			s.Logger.Error("error releasing server resource", "error", err)
			if first == nil {
				first = fmt.Errorf("releasing server resources: %w", err)
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return first
}
