// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateMainSettings,
		validateDatabaseSettings,
		validatePipelineSettings,
		validateRecognitionSettings,
		validateAlertSettings,
		validateAPISettings,
		validateNotifySettings,
		validateTelemetrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(s *Settings) []string {
	var errs []string
	if s.Main.AppDir == "" {
		errs = append(errs, "main.appdir must be set")
	}
	dirs := map[string]string{
		"paths.incoming":   s.Paths.Incoming,
		"paths.archive":    s.Paths.Archive,
		"paths.rejected":   s.Paths.Rejected,
		"paths.quarantine": s.Paths.Quarantine,
	}
	seen := make(map[string]string)
	for key, dir := range dirs {
		switch {
		case dir == "":
			errs = append(errs, key+" must be set")
		case filepath.IsAbs(dir):
			errs = append(errs, key+" must be relative to main.appdir")
		default:
			clean := filepath.Clean(dir)
			if other, dup := seen[clean]; dup {
				errs = append(errs, fmt.Sprintf("%s and %s must be different directories", key, other))
			}
			seen[clean] = key
		}
	}
	if s.Paths.Extension != "" && !strings.HasPrefix(s.Paths.Extension, ".") {
		errs = append(errs, "paths.extension must start with a dot")
	}
	return errs
}

func validateDatabaseSettings(s *Settings) []string {
	var errs []string
	switch strings.ToLower(s.Database.Type) {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path must be set")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			errs = append(errs, "database.mysql.host and database.mysql.database must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type must be sqlite or mysql, got %q", s.Database.Type))
	}
	return errs
}

func validatePipelineSettings(s *Settings) []string {
	var errs []string
	if s.Pipeline.Workers < 0 || s.Pipeline.Workers > 64 {
		errs = append(errs, fmt.Sprintf("pipeline.workers must be between 0 and 64, got %d", s.Pipeline.Workers))
	}
	if s.Pipeline.PageSize < 1 {
		errs = append(errs, "pipeline.page_size must be at least 1")
	}
	if s.Pipeline.ReadAttempts < 1 {
		errs = append(errs, "pipeline.read_attempts must be at least 1")
	}
	if s.Pipeline.ReadDelay < 0 {
		errs = append(errs, "pipeline.read_delay must not be negative")
	}
	return errs
}

func validateRecognitionSettings(s *Settings) []string {
	var errs []string
	if s.Recognition.Timeout <= 0 {
		errs = append(errs, "recognition.timeout must be positive")
	}
	if s.Recognition.RateLimit < 0 {
		errs = append(errs, "recognition.rate_limit must not be negative")
	}
	if s.Recognition.Retries < 0 {
		errs = append(errs, "recognition.retries must not be negative")
	}
	return errs
}

func validateAlertSettings(s *Settings) []string {
	if !s.Alerts.Enabled {
		return nil
	}
	var errs []string
	switch s.Alerts.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("alerts.driver must be mysql or sqlite, got %q", s.Alerts.Driver))
	}
	if s.Alerts.DSN == "" {
		errs = append(errs, "alerts.dsn must be set when alerts are enabled")
	}
	if s.Alerts.Table == "" {
		errs = append(errs, "alerts.table must be set")
	}
	if len(s.Alerts.TypeCodes) == 0 {
		errs = append(errs, "alerts.type_codes must not be empty")
	}
	if len(s.Alerts.ActiveStatuses) == 0 {
		errs = append(errs, "alerts.active_statuses must not be empty")
	}
	if s.Alerts.WatchList == "" {
		errs = append(errs, "alerts.watch_list must be set")
	}
	return errs
}

func validateAPISettings(s *Settings) []string {
	if !s.API.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
		return []string{fmt.Sprintf("api.listen %q is not host:port: %v", s.API.Listen, err)}
	}
	return nil
}

func validateNotifySettings(s *Settings) []string {
	n := &s.Notify
	if !n.Enabled {
		return nil
	}
	var errs []string
	if len(n.URLs) == 0 && !n.MQTT.Enabled {
		errs = append(errs, "notify.urls must not be empty when notifications are enabled without mqtt")
	}
	if n.MQTT.Enabled {
		if n.MQTT.Broker == "" {
			errs = append(errs, "notify.mqtt.broker must be set when mqtt is enabled")
		}
		if n.MQTT.Topic == "" {
			errs = append(errs, "notify.mqtt.topic must be set when mqtt is enabled")
		}
	}
	return errs
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return []string{"telemetry.dsn must be set when telemetry is enabled"}
	}
	return nil
}
