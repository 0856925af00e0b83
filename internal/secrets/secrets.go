// Package secrets resolves credential values from environment variable
// references and mounted secret files.
//
// A configured value is read as follows:
//   - "file:/run/secrets/db_password" reads the file
//   - values containing ${VAR} or ${VAR:-default} are expanded
//   - anything else is returned unchanged, including a lone '$'
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
)

const (
	// FilePrefix marks a value that names a secret file.
	FilePrefix = "file:"

	maxSecretFileSize = 64 * 1024
)

// Resolve returns the secret a configured value refers to.
func Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, FilePrefix):
		return ReadFile(strings.TrimPrefix(value, FilePrefix))
	case strings.Contains(value, "${"):
		return ExpandString(value)
	default:
		return value, nil
	}
}

// ExpandString expands ${VAR} and ${VAR:-default} references. A variable
// without a default must be set and non-empty.
func ExpandString(s string) (string, error) {
	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if !hasDefault {
			missing = append(missing, name)
		}
		return def
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file such as a Docker or Kubernetes secret.
// Trailing newlines are trimmed; an empty file is an error.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError(errors.NewStd("secret file path is empty"), path)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(errors.NewStd("secret path is not a regular file"), clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(errors.Newf("secret file larger than %d bytes", maxSecretFileSize).Build(), clean)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file readable by group or others",
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(errors.NewStd("secret file is empty"), clean)
	}
	return secret, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
