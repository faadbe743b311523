package bus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the message bus.
type Metrics struct {
	Published       *prometheus.CounterVec
	Rejected        *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	Mirrored        *prometheus.CounterVec
}

// NewMetrics registers the bus metrics once per process and returns them.
//
// Metrics:
//   - nudged_bus_messages_published_total{type}
//   - nudged_bus_messages_rejected_total{type}
//   - nudged_bus_handler_errors_total{type,reason}
//   - nudged_bus_handler_duration_seconds{type}
//   - nudged_bus_messages_mirrored_total{direction}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Published: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_bus_messages_published_total",
					Help: "Total number of messages accepted by the bus",
				},
				[]string{"type"},
			),
			Rejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_bus_messages_rejected_total",
					Help: "Total number of messages that failed validation",
				},
				[]string{"type"},
			),
			HandlerErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_bus_handler_errors_total",
					Help: "Total number of handler errors and recovered panics",
				},
				[]string{"type", "reason"},
			),
			HandlerDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "nudged_bus_handler_duration_seconds",
					Help:    "Time spent in bus handlers",
					Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
				},
				[]string{"type"},
			),
			Mirrored: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_bus_messages_mirrored_total",
					Help: "Messages sent to or received from the NATS mirror",
				},
				[]string{"direction"},
			),
		}
	})
	return globalMetrics
}
