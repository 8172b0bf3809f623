package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/metrics"
)

type RouterConfig struct {
	Service  BookingService
	Verifier auth.Verifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Postgres PingFunc
	Redis    PingFunc
	Env      string
	Version  string
	Now      func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	h := &handler{
		svc:     cfg.Service,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier))

		r.Route("/bookings", func(r chi.Router) {
			r.With(RequireRole(auth.RoleStudent)).Post("/", h.createBooking)
			r.With(RequireRole(auth.RoleStudent)).Post("/instant", h.createInstantBooking)
			r.Get("/upcoming", h.listUpcoming)
			r.Get("/{id}", h.getBooking)
			r.Patch("/{id}/status", h.updateStatus)
		})

		r.Get("/students/{id}/bookings", h.listStudentBookings)
		r.Get("/tutors/{id}/bookings", h.listTutorBookings)
		r.Get("/tutors/{id}/slots", h.listSlots)

		r.Route("/availability", func(r chi.Router) {
			r.With(RequireRole(auth.RoleTutor)).Post("/", h.addAvailability)
			r.Get("/{id}", h.getAvailability)
			r.With(RequireRole(auth.RoleTutor, auth.RoleAdmin)).Delete("/{id}", h.deleteAvailability)
		})
	})

	return r
}
