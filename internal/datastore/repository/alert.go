package repository

import (
	"context"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// AlertRepository provides access to the watchlist_alerts table.
type AlertRepository interface {
	// Watermark returns the latest downloaded_at. ok is false when no alert
	// has been stored yet.
	Watermark(ctx context.Context) (watermark time.Time, ok bool, err error)

	// CreateBatch inserts alerts in batches. Callers wanting all-or-nothing
	// semantics run it inside Store.Transaction.
	CreateBatch(ctx context.Context, alerts []entities.WatchlistAlert) error

	// Candidates returns alerts whose national ID or name appears in the
	// given lists.
	Candidates(ctx context.Context, nationalIDs, names []string) ([]entities.WatchlistAlert, error)

	// GetByID retrieves an alert by ID.
	// Returns ErrAlertNotFound if not found.
	GetByID(ctx context.Context, id uint) (*entities.WatchlistAlert, error)

	// Count returns the total number of stored alerts.
	Count(ctx context.Context) (int64, error)
}

// MatchRepository provides access to the alert_matches table.
type MatchRepository interface {
	// ExistingPairs returns the (alert, record) pairs already matched for
	// the given records.
	ExistingPairs(ctx context.Context, recordIDs []uint) (map[MatchKey]struct{}, error)

	// Create inserts a match. Returns false without error when the pair
	// already exists.
	Create(ctx context.Context, match *entities.AlertMatch) (bool, error)

	// PageIDs returns match IDs in ascending order after afterID.
	PageIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)

	// Count returns the total number of matches.
	Count(ctx context.Context) (int64, error)
}

// MatchKey identifies an alert/record pair.
type MatchKey struct {
	AlertID  uint
	RecordID uint
}
