package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// Layout maps dossier paths between the incoming tree and its mirrors. All
// trees live under Root and share the <source>/<date>/<file> structure, so
// a file moves by swapping its top directory. Stored paths are relative to
// Root and use forward slashes.
type Layout struct {
	Root       string
	Incoming   string
	Archive    string
	Rejected   string
	Quarantine string
	Extension  string
}

// LayoutFromSettings builds a Layout from configuration.
func LayoutFromSettings(s *conf.Settings) Layout {
	return Layout{
		Root:       s.Main.AppDir,
		Incoming:   s.Paths.Incoming,
		Archive:    s.Paths.Archive,
		Rejected:   s.Paths.Rejected,
		Quarantine: s.Paths.Quarantine,
		Extension:  s.Paths.Extension,
	}
}

// IncomingDir returns the absolute incoming directory.
func (l Layout) IncomingDir() string {
	return filepath.Join(l.Root, l.Incoming)
}

// Rel converts an absolute path under Root to its stored form.
func (l Layout) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", abs, l.Root)
	}
	return filepath.ToSlash(rel), nil
}

// Abs converts a stored path back to an absolute one.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// ArchivePath returns where rel goes after a successful ingest.
func (l Layout) ArchivePath(rel string) string {
	return mirror(rel, l.Archive)
}

// RejectedPath returns where rel goes when it fails validation.
func (l Layout) RejectedPath(rel string) string {
	return mirror(rel, l.Rejected)
}

// QuarantinePath returns where rel goes when its upload fails.
func (l Layout) QuarantinePath(rel string) string {
	return mirror(rel, l.Quarantine)
}

// HasExtension reports whether name carries the dossier extension.
func (l Layout) HasExtension(name string) bool {
	return l.Extension == "" || strings.EqualFold(filepath.Ext(name), l.Extension)
}

func mirror(rel, top string) string {
	_, rest, found := strings.Cut(rel, "/")
	if !found {
		rest = rel
	}
	return top + "/" + rest
}

// Exists reports whether a stored path exists on disk.
func (l Layout) Exists(rel string) bool {
	_, err := os.Stat(l.Abs(rel))
	return err == nil
}

// Move moves a stored path to another stored path, creating parent
// directories. Falls back to copy and remove across filesystems.
func (l Layout) Move(from, to string) error {
	src, dst := l.Abs(from), l.Abs(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.FileError(err, dst, 0)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return errors.FileError(err, src, 0)
	}
	if err := os.Remove(src); err != nil {
		return errors.FileError(err, src, 0)
	}
	return nil
}

// Remove deletes a stored path. A missing file is not an error.
func (l Layout) Remove(rel string) error {
	if err := os.Remove(l.Abs(rel)); err != nil && !os.IsNotExist(err) {
		return errors.FileError(err, rel, 0)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
