// Package storage writes command output to local files.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/roclient/internal/events"
)

// ConflictStrategy defines how to handle an existing output file.
type ConflictStrategy int

const (
	// ConflictError refuses to touch an existing file.
	ConflictError ConflictStrategy = iota

	// ConflictOverwrite replaces existing files.
	ConflictOverwrite

	// ConflictRename writes next to the existing file with a suffix.
	ConflictRename
)

// ErrExists is returned by ConflictError when the target exists.
var ErrExists = errors.New("file already exists")

// ParseConflictStrategy maps a flag value to a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strings.ToLower(s) {
	case "", "error":
		return ConflictError, nil
	case "overwrite":
		return ConflictOverwrite, nil
	case "rename":
		return ConflictRename, nil
	default:
		return ConflictError, fmt.Errorf("unknown conflict strategy %q (want error, overwrite or rename)", s)
	}
}

// OutputWriter saves encrypt and decrypt results.
type OutputWriter struct {
	strategy    ConflictStrategy
	maxFileSize int64
	logger      *events.Logger
}

// NewOutputWriter creates a writer with the given conflict strategy.
func NewOutputWriter(strategy ConflictStrategy, logger *events.Logger) *OutputWriter {
	return &OutputWriter{
		strategy:    strategy,
		maxFileSize: 100 * 1024 * 1024,
		logger:      logger.WithField("component", "output_writer"),
	}
}

// SetMaxFileSize sets the maximum file size limit.
func (w *OutputWriter) SetMaxFileSize(size int64) {
	w.maxFileSize = size
}

// Write saves data to path and returns the path actually written, which
// differs from path only under ConflictRename.
func (w *OutputWriter) Write(path string, data []byte, mode os.FileMode) (string, error) {
	if path == "" {
		return "", errors.New("empty output path")
	}
	if int64(len(data)) > w.maxFileSize {
		return "", fmt.Errorf("output too large: %d bytes (max: %d)", len(data), w.maxFileSize)
	}

	target := filepath.Clean(path)
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", target)
		}
		switch w.strategy {
		case ConflictError:
			return "", fmt.Errorf("%s: %w", target, ErrExists)
		case ConflictRename:
			target = conflictPath(target, time.Now())
		}
	}

	w.logger.WithFields(map[string]interface{}{
		"path": target,
		"size": len(data),
	}).Debug("Writing output")

	if err := WriteAtomic(target, data, mode); err != nil {
		return "", err
	}
	return target, nil
}

// WriteAtomic writes data to a temp file next to path, syncs it and
// renames it into place, creating parent directories as needed.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// conflictPath creates a sibling path tagged with a timestamp.
func conflictPath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s.conflict-%s%s", name, now.Format("20060102-150405.000"), ext))
}
