// Package conf loads and validates mitra configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options for mitra.
type Settings struct {
	Main struct {
		Name   string `yaml:"name" mapstructure:"name"`     // instance name, used in notifications
		AppDir string `yaml:"appdir" mapstructure:"appdir"` // root for dossier trees; stored paths are relative to it
		Debug  bool   `yaml:"debug" mapstructure:"debug"`
	} `yaml:"main" mapstructure:"main"`

	Paths       PathSettings         `yaml:"paths" mapstructure:"paths"`
	Database    DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Pipeline    PipelineSettings     `yaml:"pipeline" mapstructure:"pipeline"`
	Recognition RecognitionSettings  `yaml:"recognition" mapstructure:"recognition"`
	Alerts      AlertSettings        `yaml:"alerts" mapstructure:"alerts"`
	Catalog     CatalogSettings      `yaml:"catalog" mapstructure:"catalog"`
	Telemetry   TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	API         APISettings          `yaml:"api" mapstructure:"api"`
	Notify      NotifySettings       `yaml:"notify" mapstructure:"notify"`
	Logging     logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// PathSettings names the dossier directories under Main.AppDir.
type PathSettings struct {
	Incoming   string `yaml:"incoming" mapstructure:"incoming"`     // new dossiers: <incoming>/<source>/<date>/<file>
	Archive    string `yaml:"archive" mapstructure:"archive"`       // successfully ingested dossiers
	Rejected   string `yaml:"rejected" mapstructure:"rejected"`     // dossiers that failed validation
	Quarantine string `yaml:"quarantine" mapstructure:"quarantine"` // dossiers whose upload failed
	Extension  string `yaml:"extension" mapstructure:"extension"`   // dossier file extension
}

// DatabaseSettings selects and configures the local store.
type DatabaseSettings struct {
	Type      string        `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SlowQuery time.Duration `yaml:"slow_query" mapstructure:"slow_query"`
	SQLite    struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL MySQLSettings `yaml:"mysql" mapstructure:"mysql"`
}

// MySQLSettings holds MySQL connection parameters.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// PipelineSettings tunes batch sizes, concurrency and file read retries.
type PipelineSettings struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"` // 0 sizes the pool from the number of systems
	PageSize     int           `yaml:"page_size" mapstructure:"page_size"`
	ReadAttempts int           `yaml:"read_attempts" mapstructure:"read_attempts"`
	ReadDelay    time.Duration `yaml:"read_delay" mapstructure:"read_delay"`
}

// Credential is a username/password pair for one recognition system.
type Credential struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// RecognitionSettings configures access to the facial recognition systems.
type RecognitionSettings struct {
	Username    string                `yaml:"username" mapstructure:"username"` // default credentials
	Password    string                `yaml:"password" mapstructure:"password"`
	Credentials map[string]Credential `yaml:"credentials" mapstructure:"credentials"` // per system name
	Timeout     time.Duration         `yaml:"timeout" mapstructure:"timeout"`
	RateLimit   float64               `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second per system, 0 = unlimited
	Burst       int                   `yaml:"burst" mapstructure:"burst"`
	Retries     int                   `yaml:"retries" mapstructure:"retries"` // transient network retries per request
	RetryDelay  time.Duration         `yaml:"retry_delay" mapstructure:"retry_delay"`
	DeviceUUID  string                `yaml:"device_uuid" mapstructure:"device_uuid"` // login device id; generated when empty
}

// CredentialsFor returns the credentials for a recognition system. Lookup
// order: <NAME>_usuario / <NAME>_senha environment variables, the
// credentials map, then the default username and password.
func (r *RecognitionSettings) CredentialsFor(system string) Credential {
	cred := Credential{Username: r.Username, Password: r.Password}
	// viper lowercases map keys, so match system names case-insensitively
	for name, c := range r.Credentials {
		if !strings.EqualFold(name, system) {
			continue
		}
		if c.Username != "" {
			cred.Username = c.Username
		}
		if c.Password != "" {
			cred.Password = c.Password
		}
	}
	prefix := envName(system)
	if v := os.Getenv(prefix + "_usuario"); v != "" {
		cred.Username = v
	}
	if v := os.Getenv(prefix + "_senha"); v != "" {
		cred.Password = v
	}
	return cred
}

// envName turns a system name into an environment variable prefix.
func envName(system string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, system)
}

// AlertSettings configures warrant alert ingestion and propagation.
type AlertSettings struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Driver         string   `yaml:"driver" mapstructure:"driver"` // mysql or sqlite
	DSN            string   `yaml:"dsn" mapstructure:"dsn"`
	Table          string   `yaml:"table" mapstructure:"table"`
	TypeCodes      []int    `yaml:"type_codes" mapstructure:"type_codes"`
	ActiveStatuses []int    `yaml:"active_statuses" mapstructure:"active_statuses"`
	WarrantTypes   []int    `yaml:"warrant_types" mapstructure:"warrant_types"` // types that can be sent to recognition systems
	WatchList      string   `yaml:"watch_list" mapstructure:"watch_list"`
	RetryFailed    bool     `yaml:"retry_failed" mapstructure:"retry_failed"`
	Systems        []string `yaml:"systems" mapstructure:"systems"` // restrict propagation; empty means all reachable systems
}

// CatalogSettings points at the YAML catalog of sources and systems.
type CatalogSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TelemetrySettings configures error reporting and metrics.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// APISettings configures the operator status server.
type APISettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Metrics bool   `yaml:"metrics" mapstructure:"metrics"` // expose /metrics
}

// NotifySettings configures run summary notifications.
type NotifySettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs      []string      `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	OnSuccess bool          `yaml:"on_success" mapstructure:"on_success"` // also notify when a run had no failures
	MQTT      MQTTSettings  `yaml:"mqtt" mapstructure:"mqtt"`
}

// MQTTSettings configures publishing run reports to an MQTT broker.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"` // e.g. tcp://broker.local:1883
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// AbsPath joins a stored relative path with the application root.
func (s *Settings) AbsPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.Main.AppDir, rel)
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	ConfigFile      string         // explicit config file; search paths are used when empty
	SearchPaths     []string       // directories searched for config.yaml
	Flags           *pflag.FlagSet // flags bound over file and env values
	CreateIfMissing bool           // write the default config to the first search path when none is found
}

var (
	settingsMutex    sync.RWMutex
	settingsInstance *Settings
)

// Load reads configuration from file, environment and flags, then validates it.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, opts); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.Main.AppDir == "" {
		if wd, err := os.Getwd(); err == nil {
			settings.Main.AppDir = wd
		}
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// resolveSecrets replaces credential values that reference environment
// variables or secret files with the secrets themselves.
func resolveSecrets(s *Settings) error {
	fields := []*string{
		&s.Database.MySQL.Password,
		&s.Recognition.Password,
		&s.Alerts.DSN,
		&s.Telemetry.DSN,
		&s.Notify.MQTT.Password,
	}
	for i := range s.Notify.URLs {
		fields = append(fields, &s.Notify.URLs[i])
	}

	var errs []error
	for _, f := range fields {
		v, err := secrets.Resolve(*f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f = v
	}
	for name, c := range s.Recognition.Credentials {
		v, err := secrets.Resolve(c.Password)
		if err != nil {
			errs = append(errs, fmt.Errorf("recognition.credentials.%s: %w", name, err))
			continue
		}
		c.Password = v
		s.Recognition.Credentials[name] = c
	}
	return errors.Join(errs...)
}

// Setting returns the most recently loaded settings, or nil.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper(v *viper.Viper, opts LoadOptions) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		// Bad env values are reported but do not stop startup; validation catches the rest.
		logger.Global().Module("conf").Warn("environment configuration issues", logger.Error(err))
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	paths := opts.SearchPaths
	if len(paths) == 0 {
		paths = DefaultConfigPaths()
	}
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	if opts.CreateIfMissing && len(paths) > 0 {
		return createDefaultConfig(filepath.Join(paths[0], "config.yaml"))
	}
	return nil
}

// DefaultConfigPaths returns the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mitra"))
	}
	return append(paths, "/etc/mitra")
}

// createDefaultConfig writes the embedded default configuration to path.
func createDefaultConfig(path string) error {
	data, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	logger.Global().Module("conf").Info("created default config file", logger.String("path", path))
	return nil
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}
