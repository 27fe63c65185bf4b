// Package metrics registers Prometheus metrics for the validation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	Validations      *prometheus.CounterVec
	LimiterDecisions *prometheus.CounterVec
	LimiterDegraded  prometheus.Counter
	AuthFailures     *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitaqa_validations_total",
			Help: "Total national ID validation calls by outcome.",
		}, []string{"outcome"}),
		LimiterDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitaqa_ratelimit_decisions_total",
			Help: "Rate limiter decisions by result.",
		}, []string{"result"}),
		LimiterDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bitaqa_ratelimit_degraded_total",
			Help: "Rate limit decisions made by fail-open/fail-closed policy because the counter store was unreachable.",
		}),
		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitaqa_auth_failures_total",
			Help: "API key authentication failures by reason.",
		}, []string{"reason"}),
	}
}
