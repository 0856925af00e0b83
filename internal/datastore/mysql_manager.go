package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	Database  string
	SlowQuery time.Duration
	Logger    logger.Logger
}

// DSN returns the go-sql-driver connection string. Times are read and
// written in UTC so DATE columns compare equal across drivers.
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// MySQLManager handles the store on a MySQL server.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// NewMySQLManager opens a MySQL connection pool.
func NewMySQLManager(cfg *MySQLConfig) (*MySQLManager, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig(cfg.Logger, cfg.SlowQuery))
	if err != nil {
		return nil, dbError(err, "open_mysql", "high", "host", cfg.Host)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &MySQLManager{
		db:       db,
		location: fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Initialize runs GORM auto-migrations for all entities.
func (m *MySQLManager) Initialize() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return dbError(err, "migrate_schema", "high")
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database location (host:port/database).
func (m *MySQLManager) Path() string {
	return m.location
}

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns true for MySQL manager.
func (m *MySQLManager) IsMySQL() bool {
	return true
}
