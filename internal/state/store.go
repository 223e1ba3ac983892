// Package state persists the last profile listing fetched from each server,
// so the CLI can still show profiles while the server is unreachable.
// Passwords are never stored.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// Store manages profile snapshot persistence, keyed by server URL.
type Store interface {
	// Load retrieves the snapshot saved for a server.
	Load(server string) (*models.ProfileSnapshot, error)

	// Save persists the snapshot for a server.
	Save(server string, snap *models.ProfileSnapshot) error

	// Reset removes the snapshot for a server.
	Reset(server string) error

	// List returns all servers with a snapshot.
	List() ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Record wraps a snapshot with store metadata.
type Record struct {
	Server   string                  `json:"server"`
	Snapshot *models.ProfileSnapshot `json:"snapshot"`

	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// Open returns the store selected by cfg, or nil for the "none" backend.
func Open(cfg *config.StateConfig, logger *events.Logger) (Store, error) {
	switch cfg.Backend {
	case "json":
		return NewJSONStore(cfg.Dir, logger)
	case "sqlite":
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.Dir, "profiles.db"), logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Migrate copies every snapshot from src to dst.
func Migrate(src, dst Store, logger *events.Logger) (int, error) {
	servers, err := src.List()
	if err != nil {
		return 0, fmt.Errorf("list servers: %w", err)
	}

	logger.WithField("count", len(servers)).Info("Migrating profile snapshots")

	moved := 0
	for _, server := range servers {
		snap, err := src.Load(server)
		if err != nil {
			logger.WithError(err).WithField("server", server).Error("Failed to load snapshot")
			continue
		}
		if err := dst.Save(server, snap); err != nil {
			return moved, fmt.Errorf("save %s: %w", server, err)
		}
		moved++
	}
	return moved, nil
}

func cloneSnapshot(snap *models.ProfileSnapshot) *models.ProfileSnapshot {
	out := &models.ProfileSnapshot{
		ActiveID: snap.ActiveID,
		SavedAt:  snap.SavedAt,
		Profiles: make([]models.Profile, len(snap.Profiles)),
	}
	for i, p := range snap.Profiles {
		out.Profiles[i] = p.Clone()
	}
	return out
}
