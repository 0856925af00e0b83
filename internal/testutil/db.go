// Package testutil holds helpers shared by the package tests: a migrated
// SQLite store with seed functions, a discard logger and channel waits.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore"
	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// NewTestDB opens a migrated SQLite database in a temporary directory.
// The connection is closed when the test ends.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(datastore.Config{
		Path: filepath.Join(t.TempDir(), "mitra_test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })

	return mgr.DB()
}

// SeedSource creates a source database.
func SeedSource(t *testing.T, db *gorm.DB, name string, active bool) *entities.SourceDatabase {
	t.Helper()
	src := &entities.SourceDatabase{Name: name, Active: active}
	require.NoError(t, db.Create(src).Error)
	return src
}

// SeedSystem creates a recognition system and links it to the given sources.
func SeedSystem(t *testing.T, db *gorm.DB, name, baseURL string, sources ...*entities.SourceDatabase) *entities.RecognitionSystem {
	t.Helper()
	sys := &entities.RecognitionSystem{Name: name, BaseURL: baseURL}
	require.NoError(t, db.Create(sys).Error)
	for _, src := range sources {
		require.NoError(t, db.Create(&entities.SourceSystemLink{
			SourceDatabaseID:    src.ID,
			RecognitionSystemID: sys.ID,
		}).Error)
	}
	return sys
}

// RecordSpec describes a biometric record fixture. Zero values are
// replaced with unique placeholders.
type RecordSpec struct {
	Name       string
	BirthDate  string // YYYY-MM-DD
	Mother     string
	Father     string
	NationalID string
	Active     *bool
}

// SeedRecord creates a biometric record from spec under src.
func SeedRecord(t *testing.T, db *gorm.DB, src *entities.SourceDatabase, spec RecordSpec) *entities.BiometricRecord {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&entities.BiometricRecord{}).Count(&n).Error)
	seq := n + 1

	rec := &entities.BiometricRecord{
		Fingerprint:      fmt.Sprintf("%064x", seq),
		Location:         filepath.ToSlash(filepath.Join("nists_lidos", src.Name, "fixture", time.Now().Format("20060102"), fmt.Sprintf("r%d.nst", seq))),
		SourceDatabaseID: src.ID,
		Name:             spec.Name,
		MotherName:       optional(spec.Mother),
		FatherName:       optional(spec.Father),
		NationalID:       optional(spec.NationalID),
		Active:           src.Active,
	}
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("PESSOA %d", seq)
	}
	if spec.Active != nil {
		rec.Active = *spec.Active
	}
	if spec.BirthDate != "" {
		d := MustDate(t, spec.BirthDate)
		rec.BirthDate = &d
	}
	require.NoError(t, db.Create(rec).Error)
	return rec
}

// MustDate parses a YYYY-MM-DD date as UTC midnight.
func MustDate(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, value)
	require.NoError(t, err)
	return d
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
