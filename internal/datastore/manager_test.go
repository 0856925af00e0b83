package datastore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

func TestSQLiteManager_InitializeCreatesSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "mitra.db")
	mgr, err := NewSQLiteManager(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	// Initialize is idempotent
	require.NoError(t, mgr.Initialize())

	assert.False(t, mgr.IsMySQL())
	assert.Equal(t, path, mgr.Path())
	for _, model := range entities.All() {
		assert.True(t, mgr.DB().Migrator().HasTable(model), "missing table for %T", model)
	}
	assert.True(t, mgr.DB().Migrator().HasIndex(&entities.BiometricRecord{}, "idx_records_mother"))
	assert.True(t, mgr.DB().Migrator().HasIndex(&entities.BiometricRecord{}, "idx_records_father"))
}

func TestSQLiteManager_EmptyPath(t *testing.T) {
	t.Parallel()
	_, err := NewSQLiteManager(Config{})
	require.Error(t, err)
}

func TestSQLiteManager_UniqueViolationIsTranslated(t *testing.T) {
	t.Parallel()

	mgr, err := NewSQLiteManager(Config{Path: filepath.Join(t.TempDir(), "mitra.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())

	db := mgr.DB()
	require.NoError(t, db.Create(&entities.SourceDatabase{Name: "RR/CIVIL", Active: true}).Error)
	err = db.Create(&entities.SourceDatabase{Name: "RR/CIVIL", Active: true}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false},
		{"mysql duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other", &mysql.MySQLError{Number: 1452}, false},
		{"plain", errors.New("UNIQUE constraint failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestOpen_SQLiteFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Main.AppDir = t.TempDir()
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = "data/mitra.db"

	mgr, err := Open(s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.Equal(t, filepath.Join(s.Main.AppDir, "data", "mitra.db"), mgr.Path())
	assert.True(t, mgr.DB().Migrator().HasTable(&entities.OperationLog{}))
}

func TestMySQLConfig_DSN(t *testing.T) {
	t.Parallel()
	cfg := &MySQLConfig{Host: "db", Port: "3306", Username: "u", Password: "p", Database: "mitra"}
	assert.Equal(t, "u:p@tcp(db:3306)/mitra?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DSN())
}
