// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/health"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/observability"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/reconcile"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/scoring"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// Deps are the services the handlers call.
type Deps struct {
	Store    store.Store
	Pipeline *reconcile.Pipeline
	Runner   *reconcile.Runner
	Scoring  *scoring.Service
	Health   *health.Checker
	Metrics  *observability.Metrics
	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps   Deps
	router chi.Router
	log    *zap.Logger
}

// NewServer builds the router.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{deps: deps, log: zap.L().With(zap.String("component", "api"))}
	s.router = s.routes(opts)
	return s
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/boundaries", s.handleListBoundaries)

		r.Route("/datasets/{id}", func(r chi.Router) {
			r.Post("/reconciliation/preview", s.handlePreview)
			r.Post("/reconciliation/apply", s.handleApply)
			r.Post("/reconciliation/jobs", s.handleSubmitJob)
			r.Post("/score", s.handleScoreDataset)
			r.Get("/health", s.handleDatasetHealth)
		})

		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/resume", s.handleResumeJob)

		r.Post("/rollup", s.handleRollup)
		r.Post("/framework/compute", s.handleComputeFramework)
		r.Get("/framework-config", s.handleGetFrameworkConfig)
		r.Put("/framework-config", s.handlePutFrameworkConfig)
		r.Post("/weights/rebalance", s.handleRebalance)
		r.Post("/compare", s.handleCompareScores)
		r.Get("/compare", s.handleCompareVersions)
	})
	return r
}

// instrument counts requests by matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
