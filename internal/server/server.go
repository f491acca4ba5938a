// Package server implements the HTTP transport layer for the amp-pool gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/config"
	"github.com/amphq/amppool/internal/dispatch"
	"github.com/amphq/amppool/internal/storage"
	"github.com/amphq/amppool/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// LogEnqueuer queues request log records for asynchronous persistence.
type LogEnqueuer interface {
	Enqueue(*amppool.LogRecord)
}

// StatsRefresher triggers an immediate rollup recompute.
type StatsRefresher interface {
	TriggerNow()
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Server     config.ServerConfig
	Store      storage.Store
	Snapshots  *config.Manager
	Dispatcher *dispatch.Dispatcher
	Logs       LogEnqueuer           // nil = no request logging
	Stats      StatsRefresher        // nil = refresh endpoint is a no-op
	Metrics    *telemetry.Metrics    // nil = no metrics
	Gatherer   prometheus.Gatherer   // nil = /metrics not mounted
	ReadyCheck ReadyChecker          // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Client-facing API, optionally mounted under a path prefix and guarded
	// by the shared access secret.
	api := func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Post("/v1/messages", s.handleMessages)
		r.Get("/v1/models", s.handleListModels)
	}
	if p := deps.Server.APIPrefix; p != "" {
		r.Route(p, api)
	} else {
		r.Group(api)
	}

	// Admin API, mounted only when credentials are configured.
	if deps.Server.AdminUsername != "" && deps.Server.AdminPassword != "" {
		prefix := deps.Server.AdminPrefix
		if prefix == "" {
			prefix = "/admin"
		}
		r.Route(prefix+"/api", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/keys", s.handleListCredentials)
			r.Post("/keys", s.handleCreateCredential)
			r.Get("/keys/{id}", s.handleGetCredential)
			r.Put("/keys/{id}", s.handleUpdateCredential)
			r.Delete("/keys/{id}", s.handleDeleteCredential)
			r.Get("/logs", s.handleQueryLogs)
			r.Get("/stats", s.handleQueryStats)
			r.Post("/stats/refresh", s.handleStatsRefresh)
			r.Get("/config", s.handleGetConfig)
			r.Put("/config", s.handlePutConfig)
		})
	}

	return r
}

type server struct {
	deps Deps
}
