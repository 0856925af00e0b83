package repository

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// LinkStats summarizes the card state of a link table.
type LinkStats struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
}

// LinkRepository provides access to the record_system_links table.
type LinkRepository interface {
	// Create inserts a link. Returns false without error when the
	// (record, system) pair already exists.
	Create(ctx context.Context, link *entities.RecordSystemLink) (bool, error)

	// GetDetailed retrieves a link with its record, the record's source
	// database and the recognition system.
	// Returns ErrLinkNotFound if not found.
	GetDetailed(ctx context.Context, id uint) (*entities.RecordSystemLink, error)

	// FindByRecordAndSystem retrieves the link for a record on a system.
	// Returns ErrLinkNotFound if not found.
	FindByRecordAndSystem(ctx context.Context, recordID, systemID uint) (*entities.RecordSystemLink, error)

	// PendingIDs returns IDs of links without a card, ascending after afterID.
	PendingIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)

	// AssignCard sets the card ID of a link whose card is still null.
	// Returns false when the link already had a card.
	AssignCard(ctx context.Context, id uint, cardID int64) (bool, error)

	// Stats counts links by card state.
	Stats(ctx context.Context) (LinkStats, error)
}
