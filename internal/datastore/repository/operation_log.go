package repository

import (
	"context"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// LogFilter narrows OperationLogRepository.Recent.
type LogFilter struct {
	Codes []entities.LogCode // empty means all codes
	Since time.Time          // zero means no lower bound
	Limit int                // 0 means DefaultLogLimit
}

// DefaultLogLimit bounds Recent when no limit is given.
const DefaultLogLimit = 100

// OperationLogRepository provides access to the append-only operation_logs table.
type OperationLogRepository interface {
	// Append writes one entry. Messages longer than the column are truncated.
	Append(ctx context.Context, code entities.LogCode, originID *uint, message string) error

	// Exists reports whether an entry with this code and message exists.
	Exists(ctx context.Context, code entities.LogCode, message string) (bool, error)

	// Recent returns entries newest first.
	Recent(ctx context.Context, filter LogFilter) ([]entities.OperationLog, error)

	// CountByCode counts entries per code created at or after since.
	CountByCode(ctx context.Context, since time.Time) (map[entities.LogCode]int64, error)
}
