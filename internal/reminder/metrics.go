package reminder

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the reminder manager.
type Metrics struct {
	Reminders     *prometheus.GaugeVec
	Created       *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Escalations   *prometheus.CounterVec
	Fulfillment   *prometheus.CounterVec
	PersistErrors prometheus.Counter
}

// NewMetrics registers the reminder metrics once per process.
//
// Metrics:
//   - nudged_reminders{status}
//   - nudged_reminders_created_total{type}
//   - nudged_reminder_transitions_total{from,to}
//   - nudged_reminder_escalations_total{reason}
//   - nudged_reminder_fulfillment_total{result}
//   - nudged_reminder_persist_errors_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Reminders: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "nudged_reminders",
					Help: "Current reminders by status",
				},
				[]string{"status"},
			),
			Created: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_reminders_created_total",
					Help: "Reminders created",
				},
				[]string{"type"},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_reminder_transitions_total",
					Help: "Reminder status transitions",
				},
				[]string{"from", "to"},
			),
			Escalations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_reminder_escalations_total",
					Help: "Reminders escalated to urgent",
				},
				[]string{"reason"},
			),
			Fulfillment: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nudged_reminder_fulfillment_total",
					Help: "Fulfillment status changes",
				},
				[]string{"result"},
			),
			PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nudged_reminder_persist_errors_total",
				Help: "Failed attempts to save the reminder set",
			}),
		}
	})
	return globalMetrics
}
