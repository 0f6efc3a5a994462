package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/engine"
	"github.com/couchcryptid/hazard-sync/internal/scheduler"
)

// Engine is the sync core as seen by the HTTP API.
type Engine interface {
	SetViewport(ctx context.Context, v domain.Viewport) error
	PushSample(ctx context.Context, s domain.PositionSample) error
	Records(ctx context.Context, source domain.Source) (scheduler.Update, error)
	Clusters(ctx context.Context, source domain.Source) (domain.ClusterSnapshot, error)
	RefreshSource(ctx context.Context, source domain.Source) error
	Motion(ctx context.Context) (engine.MotionView, error)
	Route(ctx context.Context) (engine.RouteView, error)
	RequestRoute(ctx context.Context, destination orb.Point) (engine.RouteView, error)
	ClearRoute(ctx context.Context) error
}

// Server exposes health, readiness, metrics and the map sync API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 routes backed by eng.
func NewServer(addr string, ready sharedobs.ReadinessChecker, eng Engine, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := &handlers{engine: eng, logger: logger}
	r.Route("/api/v1", func(r chi.Router) {
		r.Put("/viewport", h.putViewport)
		r.Post("/positions", h.postPosition)
		r.Get("/motion", h.getMotion)

		r.Route("/sources/{source}", func(r chi.Router) {
			r.Get("/records", h.getRecords)
			r.Get("/clusters", h.getClusters)
			r.Post("/refresh", h.postRefresh)
		})

		r.Get("/route", h.getRoute)
		r.Post("/route", h.postRoute)
		r.Delete("/route", h.deleteRoute)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
