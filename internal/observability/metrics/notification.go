package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics counts run report deliveries per provider.
type NotificationMetrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitra_notification_deliveries_total",
				Help: "Total number of notification deliveries by provider, type and status",
			},
			[]string{"provider", "type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mitra_notification_delivery_duration_seconds",
				Help:    "Time taken to deliver a notification",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
			},
			[]string{"provider"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.deliveries.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.deliveries.Collect(ch)
	m.duration.Collect(ch)
}

// RecordDelivery records one delivery attempt. A nil receiver is a no-op.
func (m *NotificationMetrics) RecordDelivery(provider, notificationType string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.deliveries.WithLabelValues(provider, notificationType, status).Inc()
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
}
