package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counts calls per operation and outcome and tracks their latency.
type Prometheus struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheus registers the gridstore collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridstore_operations_total",
			Help: "Import and export calls by operation and outcome",
		}, []string{"operation", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridstore_operation_duration_seconds",
			Help:    "Duration of import and export calls",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"operation"}),
	}
}

// Observe records one call.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	p.calls.WithLabelValues(operation, status(success)).Inc()
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
