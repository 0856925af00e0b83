package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration parameter.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "mitra")
	v.SetDefault("main.appdir", "")
	v.SetDefault("main.debug", false)

	// Dossier trees, relative to main.appdir
	v.SetDefault("paths.incoming", "nists")
	v.SetDefault("paths.archive", "nists_lidos")
	v.SetDefault("paths.rejected", "nists_lidos_com_erro")
	v.SetDefault("paths.quarantine", "nists_quarentena")
	v.SetDefault("paths.extension", ".nst")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.slow_query", 500*time.Millisecond)
	v.SetDefault("database.sqlite.path", "mitra.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "mitra")

	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("pipeline.page_size", 100)
	v.SetDefault("pipeline.read_attempts", 5)
	v.SetDefault("pipeline.read_delay", time.Second)

	v.SetDefault("recognition.username", "")
	v.SetDefault("recognition.password", "")
	v.SetDefault("recognition.timeout", 30*time.Second)
	v.SetDefault("recognition.rate_limit", 10.0)
	v.SetDefault("recognition.burst", 5)
	v.SetDefault("recognition.retries", 3)
	v.SetDefault("recognition.retry_delay", 2*time.Second)
	v.SetDefault("recognition.device_uuid", "")

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.driver", "mysql")
	v.SetDefault("alerts.dsn", "")
	v.SetDefault("alerts.table", "alertas")
	v.SetDefault("alerts.type_codes", []int{4, 7, 9, 13})
	v.SetDefault("alerts.active_statuses", []int{1, 4})
	v.SetDefault("alerts.warrant_types", []int{4, 7, 9, 13})
	v.SetDefault("alerts.watch_list", "PF/BNMP")
	v.SetDefault("alerts.retry_failed", false)
	v.SetDefault("alerts.systems", []string{})

	v.SetDefault("catalog.path", "catalog.yaml")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("api.metrics", true)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.on_success", false)
	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.broker", "")
	v.SetDefault("notify.mqtt.topic", "mitra/runs")
	v.SetDefault("notify.mqtt.client_id", "mitra")
	v.SetDefault("notify.mqtt.retain", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", true)
	v.SetDefault("logging.file_output.path", "logs/mitra.log")
	v.SetDefault("logging.file_output.level", "info")
}
