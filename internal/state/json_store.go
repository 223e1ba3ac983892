package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// JSONStore keeps one checksummed JSON file per server, with a backup of
// the previous version.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads the snapshot for server, falling back to the backup when the
// main file is corrupt.
func (s *JSONStore) Load(server string) (*models.ProfileSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.statePath(server)

	s.logger.WithFields(map[string]interface{}{
		"server": server,
		"path":   path,
	}).Debug("Loading profile snapshot")

	rec, err := readRecord(path)
	switch {
	case os.IsNotExist(err):
		return nil, ErrStateNotFound
	case err != nil:
		s.logger.WithError(err).Warn("Profile snapshot unreadable, trying backup")
		backup, berr := readRecord(path + ".backup")
		if berr != nil {
			return nil, ErrStateCorrupt
		}
		rec = backup
	}

	if rec.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", rec.SchemaVersion).Warn("State schema version mismatch")
	}

	return rec.Snapshot, nil
}

// Save writes the snapshot atomically.
func (s *JSONStore) Save(server string, snap *models.ProfileSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(server)

	s.logger.WithFields(map[string]interface{}{
		"server":   server,
		"profiles": len(snap.Profiles),
	}).Debug("Saving profile snapshot")

	rec := Record{
		Server:        server,
		Snapshot:      cloneSnapshot(snap),
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}
	sum, err := checksum(rec)
	if err != nil {
		return err
	}
	rec.Checksum = sum

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Reset removes the snapshot and its backup.
func (s *JSONStore) Reset(server string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("server", server).Info("Resetting profile snapshot")

	path := s.statePath(server)
	for _, p := range []string{path, path + ".backup"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// List returns the servers with a readable snapshot.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var servers []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, "profiles-") {
			continue
		}
		rec, err := readRecord(filepath.Join(s.baseDir, name))
		if err != nil {
			s.logger.WithError(err).WithField("file", name).Warn("Skipping unreadable snapshot")
			continue
		}
		servers = append(servers, rec.Server)
	}
	sort.Strings(servers)
	return servers, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// statePath maps a server URL onto a stable file name.
func (s *JSONStore) statePath(server string) string {
	h := sha256.Sum256([]byte(server))
	return filepath.Join(s.baseDir, "profiles-"+hex.EncodeToString(h[:8])+".json")
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if rec.Snapshot == nil {
		return nil, fmt.Errorf("%w: no snapshot", ErrStateCorrupt)
	}
	if rec.Checksum != "" {
		want := rec.Checksum
		rec.Checksum = ""
		got, err := checksum(rec)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrStateCorrupt)
		}
		rec.Checksum = want
	}
	return &rec, nil
}

// checksum hashes rec with its Checksum field empty.
func checksum(rec Record) (string, error) {
	rec.Checksum = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot for checksum: %w", err)
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
