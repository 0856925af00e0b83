//go:build integration

package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// startMySQL runs a disposable MySQL server and returns its connection config.
func startMySQL(t *testing.T) *MySQLConfig {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("mitra"),
		tcmysql.WithUsername("mitra"),
		tcmysql.WithPassword("mitra"),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	return &MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Username: "mitra",
		Password: "mitra",
		Database: "mitra",
	}
}

func TestMySQLManager_Integration(t *testing.T) {
	cfg := startMySQL(t)

	mgr, err := NewMySQLManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	assert.True(t, mgr.IsMySQL())

	db := mgr.DB()
	for _, model := range entities.All() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}

	require.NoError(t, db.Create(&entities.SourceDatabase{Name: "RR/CIVIL", Active: true}).Error)
	err = db.Create(&entities.SourceDatabase{Name: "RR/CIVIL", Active: true}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "duplicate entry must be detected on MySQL")
}
