// Package api maps the history operations onto HTTP routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navinbhat12/rewindify/internal/common/config"
	apperrors "github.com/navinbhat12/rewindify/internal/common/errors"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/history"
	"github.com/navinbhat12/rewindify/internal/ingest"
	"github.com/navinbhat12/rewindify/internal/models"
)

const SessionHeader = "X-Session-ID"

// Service is implemented by history.Service.
type Service interface {
	CreateSession(ctx context.Context) (*history.SessionInfo, error)
	ValidateSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	Ingest(ctx context.Context, req ingest.ChunkRequest) (*history.IngestResult, error)
	DailySeries(ctx context.Context, sessionID string) ([]models.DailyTotal, error)
	EventsForDate(ctx context.Context, sessionID, date string) ([]models.TrackPlay, error)
	AllTimeStats(ctx context.Context, sessionID string) (*models.AllTimeStats, error)
	Clear(ctx context.Context, sessionID string) (events.ClearResult, error)
}

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

type Router struct {
	svc        Service
	cfg        config.ServerConfig
	errHandler *apperrors.ErrorHandler
	checks     map[string]HealthCheck
	logger     logger.Logger
}

func NewRouter(svc Service, cfg config.ServerConfig, log logger.Logger) *Router {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 256
	}
	log = logger.Component(log, "api")
	return &Router{
		svc:        svc,
		cfg:        cfg,
		errHandler: apperrors.NewErrorHandler(log),
		checks:     make(map[string]HealthCheck),
		logger:     log,
	}
}

// WithHealthCheck registers a dependency checked by GET /health.
func (rt *Router) WithHealthCheck(name string, check HealthCheck) *Router {
	rt.checks[name] = check
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", SessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", rt.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/session", rt.createSession)
	r.Delete("/api/session", rt.endSession)

	r.Group(func(r chi.Router) {
		if rt.cfg.UploadRateLimit > 0 {
			r.Use(httprate.LimitByIP(rt.cfg.UploadRateLimit, time.Minute))
		}
		r.Post("/upload", rt.upload)
	})

	r.Get("/daily", rt.daily)
	r.Get("/tracks/{date}", rt.tracks)
	r.Get("/all_time_stats", rt.allTimeStats)
	r.Post("/clear", rt.clear)

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("Request handled", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"bytes":     ww.BytesWritten(),
			"requestId": chimiddleware.GetReqID(r.Context()),
			"duration":  time.Since(start).String(),
		})
	})
}
