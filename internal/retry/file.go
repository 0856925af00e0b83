package retry

import (
	"context"
	"io/fs"
	"os"

	"github.com/mitrarr/mitra-go/internal/errors"
)

// ReadOutcome classifies the result of ReadFile.
type ReadOutcome int

const (
	// ReadOK means the file was read and is not empty.
	ReadOK ReadOutcome = iota
	// ReadEmpty means the file stayed empty on every attempt.
	ReadEmpty
	// ReadMissing means the file does not exist.
	ReadMissing
	// ReadFailed means every attempt failed with an I/O error.
	ReadFailed
	// ReadCancelled means the context ended before the read completed.
	ReadCancelled
)

// String returns a readable outcome name.
func (o ReadOutcome) String() string {
	switch o {
	case ReadOK:
		return "ok"
	case ReadEmpty:
		return "empty"
	case ReadMissing:
		return "missing"
	case ReadFailed:
		return "io_error"
	case ReadCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var errEmptyFile = errors.NewStd("file is empty")

// ReadFile reads path, retrying empty reads and I/O errors under cfg. Files
// that are still being written by the producer usually show up empty first.
// A missing file is not retried.
func ReadFile(ctx context.Context, cfg Config, path string) ([]byte, ReadOutcome, error) {
	data, err := Do(ctx, cfg, func(int) ([]byte, error) {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, Permanent(err)
		case err != nil:
			return nil, err
		case len(b) == 0:
			return nil, errEmptyFile
		}
		return b, nil
	})

	switch {
	case err == nil:
		return data, ReadOK, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, ReadCancelled, err
	case errors.Is(err, fs.ErrNotExist):
		return nil, ReadMissing, errors.FileError(err, path, 0)
	case errors.Is(err, errEmptyFile):
		return nil, ReadEmpty, errors.FileError(err, path, 0)
	default:
		return nil, ReadFailed, errors.FileError(err, path, 0)
	}
}
