// Package pipeline wires the stores, recognition clients and stages of a
// mitra run together and executes the stages in order.
package pipeline

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/alerts"
	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/datastore"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/httpclient"
	"github.com/mitrarr/mitra-go/internal/ingest"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/notification"
	"github.com/mitrarr/mitra-go/internal/observability"
	"github.com/mitrarr/mitra-go/internal/recognition"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/runcache"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

// Runtime holds everything the stages share during one process.
type Runtime struct {
	settings *conf.Settings
	build    *buildinfo.Context
	log      logger.Logger

	manager datastore.Manager // nil when the store was injected
	store   *repository.Store
	cache   *runcache.Cache
	layout  ingest.Layout
	read    retry.Config
	pool    *workerpool.Pool

	dialer    *recognition.Dialer // nil when the connector was injected
	connector recognition.Connector

	source    alerts.Source
	sqlSource *alerts.SQLSource // opened lazily, closed with the runtime

	metrics  *observability.Metrics
	notifier *notification.Service
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithStore uses an already open store instead of opening the configured one.
func WithStore(store *repository.Store) Option {
	return func(rt *Runtime) { rt.store = store }
}

// WithConnector replaces the recognition system dialer.
func WithConnector(c recognition.Connector) Option {
	return func(rt *Runtime) { rt.connector = c }
}

// WithAlertSource replaces the upstream alert database.
func WithAlertSource(src alerts.Source) Option {
	return func(rt *Runtime) { rt.source = src }
}

// WithMetrics shares metrics with another component such as the status API.
func WithMetrics(m *observability.Metrics) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithNotifier replaces the notification service built from settings.
func WithNotifier(n *notification.Service) Option {
	return func(rt *Runtime) { rt.notifier = n }
}

// WithLogger sets the pipeline logger.
func WithLogger(log logger.Logger) Option {
	return func(rt *Runtime) { rt.log = log }
}

// WithBuildInfo sets the version reported to recognition systems.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(rt *Runtime) { rt.build = b }
}

// Open builds a Runtime from settings. The caller must Close it.
func Open(ctx context.Context, settings *conf.Settings, opts ...Option) (*Runtime, error) {
	rt := &Runtime{settings: settings}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.log == nil {
		rt.log = logger.Global().Module("pipeline")
	}

	if rt.store == nil {
		mgr, err := datastore.Open(settings, rt.log.Module("datastore"))
		if err != nil {
			return nil, err
		}
		rt.manager = mgr
		rt.store = repository.NewStore(mgr.DB())
	}

	rt.cache = runcache.New(rt.store.Catalog)
	rt.layout = ingest.LayoutFromSettings(settings)
	rt.read = retry.Config{Attempts: settings.Pipeline.ReadAttempts, Delay: settings.Pipeline.ReadDelay}
	if rt.read.Attempts <= 0 {
		rt.read = retry.DefaultConfig()
	}

	systems, err := rt.cache.Systems(ctx)
	if err != nil {
		rt.Close()
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryDatabase).
			Context("operation", "list_systems").
			Build()
	}
	rt.pool = workerpool.New(workerpool.Size(settings.Pipeline.Workers, len(systems)))

	if rt.metrics == nil {
		if rt.metrics, err = observability.NewMetrics(); err != nil {
			rt.Close()
			return nil, err
		}
	}

	if rt.connector == nil {
		hc := httpclient.New(&httpclient.Config{
			DefaultTimeout: settings.Recognition.Timeout,
			UserAgent:      "mitra/" + rt.build.GetVersion(),
		})
		rt.metrics.InstrumentClient(hc)
		rt.dialer = recognition.NewDialer(&settings.Recognition, hc, rt.log.Module("recognition"))
		rt.connector = rt.dialer
	}

	if rt.notifier == nil {
		if rt.notifier, err = notification.FromSettings(&settings.Notify, rt.log.Module("notification")); err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.notifier.SetMetrics(rt.metrics.Notification)

	rt.log.Debug("pipeline runtime ready",
		logger.Int("systems", len(systems)),
		logger.Int("workers", rt.pool.Workers()))
	return rt, nil
}

// Store returns the local store.
func (rt *Runtime) Store() *repository.Store {
	return rt.store
}

// Metrics returns the metrics the stages record into.
func (rt *Runtime) Metrics() *observability.Metrics {
	return rt.metrics
}

// alertSource returns the injected source or opens the configured one.
func (rt *Runtime) alertSource() (alerts.Source, error) {
	if rt.source != nil {
		return rt.source, nil
	}
	src, err := alerts.OpenSQLSource(&rt.settings.Alerts, rt.log.Module("alerts"))
	if err != nil {
		return nil, err
	}
	rt.sqlSource = src
	rt.source = src
	return src, nil
}

// Close releases connections opened by Open. It is safe to call more than once.
func (rt *Runtime) Close() {
	if rt.notifier != nil {
		rt.notifier.Close()
	}
	if rt.sqlSource != nil {
		if err := rt.sqlSource.Close(); err != nil {
			rt.log.Warn("closing alert source failed", logger.Error(err))
		}
		rt.sqlSource, rt.source = nil, nil
	}
	if rt.dialer != nil {
		rt.dialer.Close()
		rt.dialer = nil
	}
	if rt.manager != nil {
		if err := rt.manager.Close(); err != nil {
			rt.log.Warn("closing store failed", logger.Error(err))
		}
		rt.manager = nil
	}
}
