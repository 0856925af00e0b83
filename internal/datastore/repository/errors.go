package repository

import (
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// Sentinel errors for repository operations.
var (
	// ErrRecordNotFound indicates the requested biometric record does not exist.
	ErrRecordNotFound = errors.NewStd("biometric record not found")

	// ErrSourceNotFound indicates the requested source database does not exist.
	ErrSourceNotFound = errors.NewStd("source database not found")

	// ErrSystemNotFound indicates the requested recognition system does not exist.
	ErrSystemNotFound = errors.NewStd("recognition system not found")

	// ErrLinkNotFound indicates the requested record/system link does not exist.
	ErrLinkNotFound = errors.NewStd("record system link not found")

	// ErrAlertLinkNotFound indicates the requested alert/system link does not exist.
	ErrAlertLinkNotFound = errors.NewStd("alert system link not found")

	// ErrAlertNotFound indicates no alert matched the query.
	ErrAlertNotFound = errors.NewStd("watchlist alert not found")

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewStd("duplicate key")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

// translate maps GORM and driver errors onto the sentinels above.
func translate(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case datastore.IsUniqueViolation(err):
		return ErrDuplicateKey
	default:
		return err
	}
}

// maxParams bounds IN (...) lists; SQLite's default limit is 999 variables.
const maxParams = 500

// chunk splits values into slices of at most size elements.
func chunk[T any](values []T, size int) [][]T {
	var out [][]T
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
