// Package observability provides Prometheus metrics functionality for
// monitoring the mitra pipeline. Error telemetry lives in the errors
// package.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mitrarr/mitra-go/internal/httpclient"
	"github.com/mitrarr/mitra-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline     *metrics.PipelineMetrics
	HTTP         *metrics.HTTPMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipeline, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	notification, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Pipeline:     pipeline,
		HTTP:         httpMetrics,
		Notification: notification,
	}, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// InstrumentClient records every request the client sends.
func (m *Metrics) InstrumentClient(c *httpclient.Client) {
	c.SetAfterResponseHook(func(req *http.Request, resp *http.Response, _ error, elapsed time.Duration) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.HTTP.RecordClientRequest(host(req.URL), req.Method, status, elapsed)
	})
}

func host(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
