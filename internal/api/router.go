package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

type RouterConfig struct {
	App          *app.App
	Location     *time.Location // clinic zone for wall-clock inputs
	Dependencies []Dependency
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Metrics      *metrics.Metrics
	// EmailReplies, when set, answers inbound emails with the outcome text.
	EmailReplies notify.Notifier
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	a := cfg.App

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))
	r.Use(RecoverMiddleware(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Reference data
	r.Get("/doctors", listDoctorsHandler(a.Bookings))
	r.Get("/doctors/{id}/availability", availabilityHandler(a.Bookings, loc, logger))
	r.Get("/doctors/{id}/schedule", doctorScheduleHandler(a.Bookings, loc, logger))
	r.Get("/patients/lookup", lookupPatientHandler(a.Bookings, logger))

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(a.Bookings, loc, logger))
	r.Get("/appointments/{id}", getAppointmentHandler(a.Bookings, a.Stores.Reminders, logger))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(a.Reconciler, logger))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(a.Bookings, logger))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(a.Bookings, loc, logger))

	// Inbound patient replies
	r.Post("/webhooks/sms", smsWebhookHandler(a.Reconciler, logger))
	r.Post("/webhooks/email", emailWebhookHandler(a.Reconciler, cfg.EmailReplies, logger))

	// Reporting
	r.Get("/schedule/summary", dailySummaryHandler(a.Bookings, loc, logger))
	r.Get("/cancellations/stats", cancellationStatsHandler(a.Reconciler, logger))
	r.Get("/reminders/stats", reminderStatsHandler(a.Dispatcher, logger))

	return r
}
