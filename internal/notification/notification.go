// Package notification sends pipeline run reports to operators through
// shoutrrr services and an MQTT topic.
package notification

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/mqtt"
	"github.com/mitrarr/mitra-go/internal/observability/metrics"
	"github.com/mitrarr/mitra-go/internal/privacy"
)

// Type classifies a notification.
type Type string

const (
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Notification is one message to deliver.
type Notification struct {
	Type    Type
	Title   string
	Message string
}

// Provider delivers notifications.
type Provider interface {
	GetName() string
	IsEnabled() bool
	SupportsType(t Type) bool
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
}

// Service fans a notification out to its providers.
type Service struct {
	providers []Provider
	onSuccess bool
	log       logger.Logger
	metrics   *metrics.NotificationMetrics
}

// NewService creates a service over already validated providers.
func NewService(providers []Provider, onSuccess bool, log logger.Logger) *Service {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Service{providers: providers, onSuccess: onSuccess, log: log}
}

// FromSettings builds the service described by settings. A disabled
// configuration yields a service that sends nothing.
func FromSettings(settings *conf.NotifySettings, log logger.Logger) (*Service, error) {
	if !settings.Enabled {
		return NewService(nil, false, log), nil
	}

	var providers []Provider
	if len(settings.URLs) > 0 {
		p := NewShoutrrrProvider("shoutrrr", true, settings.URLs, nil, settings.Timeout)
		if err := p.ValidateConfig(); err != nil {
			return nil, configError(err, "validate_notify_urls")
		}
		providers = append(providers, p)
	}

	if m := settings.MQTT; m.Enabled {
		cfg := mqtt.DefaultConfig()
		cfg.Broker, cfg.Topic, cfg.Retain = m.Broker, m.Topic, m.Retain
		cfg.Username, cfg.Password = m.Username, m.Password
		if m.ClientID != "" {
			cfg.ClientID = m.ClientID
		}
		client, err := mqtt.NewClient(cfg, log)
		if err != nil {
			return nil, err
		}
		p := NewMQTTProvider(client, m.Topic)
		if err := p.ValidateConfig(); err != nil {
			return nil, configError(err, "validate_mqtt")
		}
		providers = append(providers, p)
	}

	return NewService(providers, settings.OnSuccess, log), nil
}

func configError(err error, operation string) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryConfiguration).
		Context("operation", operation).
		Build()
}

// SetMetrics records deliveries in m from now on.
func (s *Service) SetMetrics(m *metrics.NotificationMetrics) {
	s.metrics = m
}

// Close releases provider connections.
func (s *Service) Close() {
	for _, p := range s.providers {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Send delivers n to every enabled provider that supports its type. All
// providers are tried; their errors are joined.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, p := range s.providers {
		if !p.IsEnabled() || !p.SupportsType(n.Type) {
			continue
		}
		start := time.Now()
		err := p.Send(ctx, n)
		s.metrics.RecordDelivery(p.GetName(), string(n.Type), err, time.Since(start))
		if err != nil {
			s.log.Warn("notification delivery failed",
				logger.String("provider", p.GetName()),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StageReport is the outcome of one pipeline stage.
type StageReport struct {
	Stage    string
	Counts   map[string]int
	Err      error
	Duration time.Duration
}

// RunReport summarizes a pipeline run.
type RunReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Stages   []StageReport
}

// Failures returns the number of failed stages and failed items.
func (r *RunReport) Failures() (stages, items int) {
	for _, st := range r.Stages {
		if st.Err != nil {
			stages++
		}
		items += st.Counts["failed"]
	}
	return stages, items
}

// Notification renders the report. Runs with failures are warnings, or
// errors when a stage aborted.
func (r *RunReport) Notification() *Notification {
	stages, items := r.Failures()
	n := &Notification{Type: TypeInfo, Title: "mitra run finished"}
	switch {
	case stages > 0:
		n.Type, n.Title = TypeError, "mitra run failed"
	case items > 0:
		n.Type, n.Title = TypeWarning, "mitra run finished with failures"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s started %s, took %s\n", r.RunID, r.Started.Format(time.RFC3339), r.Duration.Round(time.Second))
	for _, st := range r.Stages {
		fmt.Fprintf(&b, "%s:", st.Stage)
		keys := make([]string, 0, len(st.Counts))
		for k := range st.Counts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%d", k, st.Counts[k])
		}
		if st.Err != nil {
			fmt.Fprintf(&b, " error=%q", privacy.ScrubMessage(st.Err.Error()))
		}
		b.WriteByte('\n')
	}
	n.Message = b.String()
	return n
}

// Report sends the run report. Clean runs are only reported when the
// service was configured with OnSuccess.
func (s *Service) Report(ctx context.Context, r *RunReport) error {
	if len(s.providers) == 0 {
		return nil
	}
	n := r.Notification()
	if n.Type == TypeInfo && !s.onSuccess {
		return nil
	}
	return s.Send(ctx, n)
}
