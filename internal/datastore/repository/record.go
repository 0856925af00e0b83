package repository

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// RecordRepository provides access to the biometric_records table.
type RecordRepository interface {
	// GetByID retrieves a record by ID with its source database.
	// Returns ErrRecordNotFound if not found.
	GetByID(ctx context.Context, id uint) (*entities.BiometricRecord, error)

	// FindByFingerprint retrieves a record by content fingerprint.
	// Returns ErrRecordNotFound if not found.
	FindByFingerprint(ctx context.Context, fingerprint string) (*entities.BiometricRecord, error)

	// FindByLocation retrieves a record by its stored relative path.
	// Returns ErrRecordNotFound if not found.
	FindByLocation(ctx context.Context, location string) (*entities.BiometricRecord, error)

	// Create inserts a new record.
	// Returns ErrDuplicateKey if the fingerprint or location already exists.
	Create(ctx context.Context, rec *entities.BiometricRecord) error

	// UpdateLocation changes the stored relative path of a record.
	UpdateLocation(ctx context.Context, id uint, location string) error

	// UnlinkedIDs returns IDs of active records from sourceID that have no
	// link to systemID, in ascending order after afterID.
	UnlinkedIDs(ctx context.Context, sourceID, systemID, afterID uint, limit int) ([]uint, error)

	// PageActive returns active records from sourceID in ascending ID order
	// after afterID.
	PageActive(ctx context.Context, sourceID, afterID uint, limit int) ([]entities.BiometricRecord, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)
}
