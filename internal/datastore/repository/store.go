package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories over one database handle.
type Store struct {
	db *gorm.DB

	Catalog    CatalogRepository
	Records    RecordRepository
	Links      LinkRepository
	Alerts     AlertRepository
	Matches    MatchRepository
	AlertLinks AlertLinkRepository
	OpLog      OperationLogRepository
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Catalog:    NewCatalogRepository(db),
		Records:    NewRecordRepository(db),
		Links:      NewLinkRepository(db),
		Alerts:     NewAlertRepository(db),
		Matches:    NewMatchRepository(db),
		AlertLinks: NewAlertLinkRepository(db),
		OpLog:      NewOperationLogRepository(db),
	}
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a new transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
