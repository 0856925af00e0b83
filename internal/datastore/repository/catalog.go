package repository

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// CatalogRepository provides access to source databases, recognition
// systems and the links between them.
type CatalogRepository interface {
	// SourceByName retrieves a source database by its exact name.
	// Returns ErrSourceNotFound if not found.
	SourceByName(ctx context.Context, name string) (*entities.SourceDatabase, error)

	// SourceByID retrieves a source database by ID.
	// Returns ErrSourceNotFound if not found.
	SourceByID(ctx context.Context, id uint) (*entities.SourceDatabase, error)

	// ListSources returns all source databases ordered by name.
	ListSources(ctx context.Context) ([]entities.SourceDatabase, error)

	// UpsertSource creates a source database or updates its active flag.
	UpsertSource(ctx context.Context, name string, active bool) (*entities.SourceDatabase, error)

	// SystemByID retrieves a recognition system by ID.
	// Returns ErrSystemNotFound if not found.
	SystemByID(ctx context.Context, id uint) (*entities.RecognitionSystem, error)

	// SystemByName retrieves a recognition system by its exact name.
	// Returns ErrSystemNotFound if not found.
	SystemByName(ctx context.Context, name string) (*entities.RecognitionSystem, error)

	// ListSystems returns all recognition systems ordered by ID.
	ListSystems(ctx context.Context) ([]entities.RecognitionSystem, error)

	// UpsertSystem creates a recognition system or updates its base URL.
	UpsertSystem(ctx context.Context, name, baseURL string) (*entities.RecognitionSystem, error)

	// LinkSourceSystem declares that records of sourceID go to systemID.
	// Returns false when the link already existed.
	LinkSourceSystem(ctx context.Context, sourceID, systemID uint) (bool, error)

	// SourcesForSystem returns the source databases linked to a system.
	// With activeOnly, inactive sources are left out.
	SourcesForSystem(ctx context.Context, systemID uint, activeOnly bool) ([]entities.SourceDatabase, error)

	// SystemsForSource returns the recognition systems reachable from a source.
	SystemsForSource(ctx context.Context, sourceID uint) ([]entities.RecognitionSystem, error)
}
