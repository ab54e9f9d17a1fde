// Package observe holds the server's Prometheus instrumentation.
package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the counters and gauges the server reports. A single
// instance is created at startup and threaded to the transports.
type Metrics struct {
	registry *prometheus.Registry

	// AuthAttempts counts session checks by outcome. The outcome label holds
	// either "ok" or a stable rejection code ("expired", "token-revoked", ...).
	AuthAttempts *prometheus.CounterVec

	// Logins counts login attempts by outcome ("ok", "rejected", "error").
	Logins *prometheus.CounterVec

	// Signups counts account creations by outcome ("ok", "conflict",
	// "invalid", "error").
	Signups *prometheus.CounterVec

	// WSConnections tracks currently open chat sockets.
	WSConnections prometheus.Gauge

	// WSMessages counts chat frames by direction ("in", "out").
	WSMessages *prometheus.CounterVec
}

// NewMetrics builds a Metrics over a private registry, so tests can hold
// several instances without duplicate-registration panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Session authentication checks by outcome.",
		}, []string{"outcome"}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Signups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "auth",
			Name:      "signups_total",
			Help:      "Signup attempts by outcome.",
		}, []string{"outcome"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Currently open chat websocket connections.",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "Chat frames by direction.",
		}, []string{"direction"}),
	}
}

// Handler returns the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
