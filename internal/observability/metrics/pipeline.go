package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for pipeline stages
type PipelineMetrics struct {
	stageRunsTotal *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	itemsTotal     *prometheus.CounterVec
	linkState      *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
}

// NewPipelineMetrics creates and registers pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitra_stage_runs_total",
			Help: "Total number of pipeline stage runs",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mitra_stage_duration_seconds",
			Help:    "Time taken by pipeline stages",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount15), // 100ms to ~27min
		},
		[]string{"stage"},
	)

	m.itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitra_stage_items_total",
			Help: "Total number of items processed by pipeline stages",
		},
		[]string{"stage", "outcome"}, // outcome: created, duplicate, reused, failed, sent, ...
	)

	m.linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mitra_links",
			Help: "Current number of links by card state",
		},
		[]string{"kind", "state"}, // kind: record_links, alert_links; state: pending, synced, failed
	)

	m.lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mitra_stage_last_success_timestamp_seconds",
			Help: "Unix time of the last successful stage run",
		},
		[]string{"stage"},
	)
}

func (m *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.stageRunsTotal,
		m.stageDuration,
		m.itemsTotal,
		m.linkState,
		m.lastSuccess,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordStage records one stage run.
func (m *PipelineMetrics) RecordStage(stage string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.stageRunsTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
}

// AddItems counts n items of a stage with the given outcome.
func (m *PipelineMetrics) AddItems(stage, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(stage, outcome).Add(float64(n))
}

// SetLinks sets the link gauges of one kind.
func (m *PipelineMetrics) SetLinks(kind string, pending, synced, failed int64) {
	m.linkState.WithLabelValues(kind, "pending").Set(float64(pending))
	m.linkState.WithLabelValues(kind, "synced").Set(float64(synced))
	m.linkState.WithLabelValues(kind, "failed").Set(float64(failed))
}
