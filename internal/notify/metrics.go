package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	Scheduled prometheus.Counter
	Cancelled prometheus.Counter
	Delivered *prometheus.CounterVec
}

// NewMetrics registers the notification metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Scheduled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nudged_notifications_scheduled_total",
				Help: "Notifications armed or re-armed",
			}),
			Cancelled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nudged_notifications_cancelled_total",
				Help: "Pending notifications dropped before firing",
			}),
			Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "nudged_notifications_delivered_total",
				Help: "Notification deliveries per sink attempt",
			}, []string{"result"}),
		}
	})
	return globalMetrics
}
