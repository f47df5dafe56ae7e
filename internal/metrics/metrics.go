// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	sessionsCreated prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	checkIns        *prometheus.CounterVec
	exports         *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sessions_created_total",
			Help: "Attendance sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_closed_total",
			Help: "Sessions leaving the open state, by cause.",
		}, []string{"cause"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Check-in attempts by outcome.",
		}, []string{"result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_exports_total",
			Help: "Export jobs by outcome.",
		}, []string{"result"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_action_duration_seconds",
			Help:    "API action latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "code"}),
	}
	reg.MustRegister(m.sessionsCreated, m.sessionsClosed, m.checkIns, m.exports, m.actionDuration)
	return m
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

// SessionClosed counts a transition out of open; cause is manual, replaced or expired.
func (m *Metrics) SessionClosed(cause string) {
	if m != nil {
		m.sessionsClosed.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) CheckIn(result string) {
	if m != nil {
		m.checkIns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Export(result string) {
	if m != nil {
		m.exports.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveAction(action, code string, took time.Duration) {
	if m != nil {
		m.actionDuration.WithLabelValues(action, code).Observe(took.Seconds())
	}
}
