// Package datastore opens and migrates the mitra store on SQLite or MySQL.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates or updates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host:port/database for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Config holds configuration for the SQLite manager.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// SlowQuery is the threshold above which queries are logged as slow.
	SlowQuery time.Duration
	// Logger receives GORM query logs; nil silences them.
	Logger logger.Logger
}

// SQLiteManager handles the store on a SQLite file.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens the SQLite database at cfg.Path, creating parent
// directories as needed.
func NewSQLiteManager(cfg Config) (*SQLiteManager, error) {
	if cfg.Path == "" {
		return nil, dbError(fmt.Errorf("sqlite path is empty"), "open_sqlite", "")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, dbError(err, "create_data_dir", "", "path", cfg.Path)
	}

	// Build DSN with recommended SQLite pragmas. Immediate transactions keep
	// concurrent writers from deadlocking on lock upgrades.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Logger, cfg.SlowQuery))
	if err != nil {
		return nil, dbError(err, "open_sqlite", "", "path", cfg.Path)
	}

	return &SQLiteManager{
		db:     db,
		dbPath: cfg.Path,
	}, nil
}

// gormConfig builds the shared GORM configuration. Driver errors are
// translated so unique violations surface as gorm.ErrDuplicatedKey.
func gormConfig(log logger.Logger, slowQuery time.Duration) *gorm.Config {
	var gl gormlogger.Interface = gormlogger.Default.LogMode(gormlogger.Silent)
	if log != nil {
		gl = logger.NewGormLoggerAdapter(log.Module("gorm"), slowQuery)
	}
	return &gorm.Config{
		Logger:         gl,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Initialize runs GORM auto-migrations for all entities.
func (m *SQLiteManager) Initialize() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return dbError(err, "migrate_schema", "high")
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close checkpoints the WAL and closes the database connection.
func (m *SQLiteManager) Close() error {
	// Best effort; a failed checkpoint leaves the WAL for the next open.
	_ = m.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}

// Open creates the manager selected by settings and initializes the schema.
func Open(settings *conf.Settings, log logger.Logger) (Manager, error) {
	var (
		mgr Manager
		err error
	)
	switch strings.ToLower(settings.Database.Type) {
	case "mysql":
		my := settings.Database.MySQL
		mgr, err = NewMySQLManager(&MySQLConfig{
			Host:      my.Host,
			Port:      my.Port,
			Username:  my.Username,
			Password:  my.Password,
			Database:  my.Database,
			SlowQuery: settings.Database.SlowQuery,
			Logger:    log,
		})
	default:
		mgr, err = NewSQLiteManager(Config{
			Path:      settings.AbsPath(settings.Database.SQLite.Path),
			SlowQuery: settings.Database.SlowQuery,
			Logger:    log,
		})
	}
	if err != nil {
		return nil, err
	}

	if err := mgr.Initialize(); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}
