// Package metrics exposes Prometheus counters for the booking and reminder
// flows. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic"

type Metrics struct {
	bookings      *prometheus.CounterVec
	releases      *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	signals       *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "releases_total",
			Help:      "Slot releases by resulting status and channel",
		}, []string{"status", "channel"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "dispatch_total",
			Help:      "Reminder dispatch results by stage",
		}, []string{"stage", "outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "signals_total",
			Help:      "Inbound patient replies by channel and intent",
		}, []string{"channel", "intent"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Periodic job runs by job and outcome",
		}, []string{"job", "outcome"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.releases, m.reminders, m.signals, m.jobRuns, m.httpDurations)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRelease(status, channel string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(status, channel).Inc()
}

func (m *Metrics) ObserveReminder(stage, outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveSignal(channel, intent string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(channel, intent).Inc()
}

func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDurations.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
