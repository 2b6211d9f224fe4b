package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("booked")
		m.ObserveRelease("cancelled", "sms")
		m.ObserveReminder("immediate", "sent")
		m.ObserveSignal("sms", "CANCEL")
		m.ObserveJob("dispatch", nil)
		m.ObserveHTTP("GET", "/doctors", 200, time.Millisecond)
	})
}

// counterValue reads a counter from the registry by name and label set.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("booked")
	m.ObserveBooking("booked")
	m.ObserveBooking("conflict")
	m.ObserveJob("sweep", errors.New("boom"))

	assert.Equal(t, 2.0, counterValue(t, reg, "clinic_booking_attempts_total", map[string]string{"outcome": "booked"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_booking_attempts_total", map[string]string{"outcome": "conflict"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "clinic_worker_runs_total", map[string]string{"job": "sweep", "outcome": "error"}))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(503))
}
