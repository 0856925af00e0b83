package repository

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// AlertLinkRepository provides access to the alert_system_links table.
type AlertLinkRepository interface {
	// Create inserts a link. Returns false without error when the
	// (match, system) pair already exists.
	Create(ctx context.Context, link *entities.AlertSystemLink) (bool, error)

	// MissingFor returns, unsaved, the links the given matches should have:
	// one per recognition system reachable from the matched record's
	// source database that has no link yet.
	MissingFor(ctx context.Context, matchIDs []uint) ([]entities.AlertSystemLink, error)

	// PendingIDs returns IDs of links without a card, ascending after
	// afterID. With includeFailed, links marked CardFailed are included.
	PendingIDs(ctx context.Context, afterID uint, limit int, includeFailed bool) ([]uint, error)

	// GetDetailed retrieves a link with its match, alert, record, the
	// record's source database and the recognition system.
	// Returns ErrAlertLinkNotFound if not found.
	GetDetailed(ctx context.Context, id uint) (*entities.AlertSystemLink, error)

	// SiblingCard returns the card held by another link of the same upstream
	// alert sequence on the same system.
	SiblingCard(ctx context.Context, sequence int64, systemID, excludeID uint) (cardID int64, ok bool, err error)

	// SetCard records the outcome of a send: a card ID or CardFailed.
	// Links that already hold a positive card are left unchanged and false
	// is returned.
	SetCard(ctx context.Context, id uint, cardID int64) (bool, error)

	// Stats counts links by card state.
	Stats(ctx context.Context) (LinkStats, error)
}
