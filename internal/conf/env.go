// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation.
// FINDFACE_USER and FINDFACE_PASSWORD are kept for existing deployments.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.appdir", "APP_DIR", nil},
		{"main.appdir", "MITRA_APPDIR", nil},
		{"main.debug", "MITRA_DEBUG", validateEnvBool},

		{"database.type", "MITRA_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "MITRA_SQLITE_PATH", nil},
		{"database.mysql.host", "MITRA_MYSQL_HOST", nil},
		{"database.mysql.port", "MITRA_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "MITRA_MYSQL_USERNAME", nil},
		{"database.mysql.password", "MITRA_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "MITRA_MYSQL_DATABASE", nil},

		{"pipeline.workers", "MITRA_WORKERS", validateEnvNonNegativeInt},
		{"pipeline.page_size", "MITRA_PAGE_SIZE", validateEnvPositiveInt},

		{"recognition.username", "FINDFACE_USER", nil},
		{"recognition.password", "FINDFACE_PASSWORD", nil},
		{"recognition.username", "MITRA_RECOGNITION_USERNAME", nil},
		{"recognition.password", "MITRA_RECOGNITION_PASSWORD", nil},
		{"recognition.timeout", "MITRA_RECOGNITION_TIMEOUT", validateEnvDuration},

		{"alerts.enabled", "MITRA_ALERTS_ENABLED", validateEnvBool},
		{"alerts.dsn", "MITRA_ALERTS_DSN", nil},

		{"telemetry.enabled", "MITRA_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "SENTRY_DSN", nil},

		{"api.listen", "MITRA_API_LISTEN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal).
// Multiple variables may feed one key; viper.BindEnv takes them in priority order.
func bindEnvVars(v *viper.Viper) error {
	bindings := getEnvBindings()
	var warnings []string

	byKey := make(map[string][]string)
	var keys []string
	for _, binding := range bindings {
		if _, seen := byKey[binding.ConfigKey]; !seen {
			keys = append(keys, binding.ConfigKey)
		}
		// Later entries take priority
		byKey[binding.ConfigKey] = append([]string{binding.EnvVar}, byKey[binding.ConfigKey]...)

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	for _, key := range keys {
		args := append([]string{key}, byKey[key]...)
		if err := v.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", key, err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch strings.ToLower(value) {
	case "sqlite", "mysql":
		return nil
	default:
		return fmt.Errorf("database type must be sqlite or mysql, got '%s'", value)
	}
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}
