package testutil

import (
	"io"
	"time"

	"github.com/mitrarr/mitra-go/internal/logger"
)

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}
