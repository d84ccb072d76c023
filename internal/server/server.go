// Package server implements the HTTP transport layer for cachemgr.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/app"
	"github.com/eugener/cachemgr/internal/ratelimit"
	"github.com/eugener/cachemgr/internal/storage"
	"github.com/eugener/cachemgr/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Limits holds the default per-token limits. Zero means unlimited.
type Limits struct {
	RPM         int64
	Actions     int64
	FlushPerDay int64
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth        pagecache.Authenticator
	Coordinator *app.Coordinator
	Store       storage.Store
	Tokens      *app.TokenManager    // nil disables token admin routes
	ReadyCheck  ReadyChecker         // nil = always ready (for tests)
	RateLimiter *ratelimit.Registry  // nil = no rate limiting
	Quota       *ratelimit.FlushQuota // nil = no flush quota
	Limits      Limits
	Metrics     *telemetry.Metrics  // nil = no request metrics
	Gatherer    prometheus.Gatherer // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	r.Use(s.tracing)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(pagecache.PermViewCache))
			r.Get("/page", s.handlePage)
			r.Get("/cache/status", s.handleCacheStatus)
			r.Get("/capabilities", s.handleCapabilities)
			r.Get("/content/{id}", s.handleGetContent)
			r.Get("/content-types", s.handleListContentTypes)
		})

		r.With(requirePerm(pagecache.PermPurgePage)).Post("/cache/{action}", s.handleCacheAction)

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(pagecache.PermManageContent))
			r.Put("/content/{id}", s.handlePutContent)
			r.Delete("/content/{id}", s.handleDeleteContent)
			r.Put("/content-types/{name}", s.handlePutContentType)
			r.Post("/hooks/transition", s.handleTransitionHook)
		})

		r.With(requirePerm(pagecache.PermViewAudit)).Get("/purges", s.handleListPurges)

		if deps.Tokens != nil {
			r.Route("/admin/tokens", func(r chi.Router) {
				r.Use(requirePerm(pagecache.PermManageTokens))
				r.Get("/", s.handleListTokens)
				r.Post("/", s.handleCreateToken)
				r.Patch("/{id}", s.handleUpdateToken)
				r.Delete("/{id}", s.handleDeleteToken)
			})
		}
	})

	return r
}

type server struct {
	deps Deps
}
