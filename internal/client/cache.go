package client

import (
	"errors"
	"fmt"
	"sort"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/state"
)

// ErrCacheDisabled is returned when the state backend is "none".
var ErrCacheDisabled = errors.New("profile cache is disabled")

// CachedServer summarises one saved snapshot.
type CachedServer struct {
	Server   string
	ActiveID string
	Profiles int
	Snapshot *models.ProfileSnapshot
}

// CacheManager exposes the local profile cache.
type CacheManager struct {
	store  state.Store
	server string
	logger *events.Logger
}

// List returns every cached server, sorted by URL. Unreadable entries are
// skipped.
func (m *CacheManager) List() ([]CachedServer, error) {
	if m.store == nil {
		return nil, ErrCacheDisabled
	}

	servers, err := m.store.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(servers)

	out := make([]CachedServer, 0, len(servers))
	for _, server := range servers {
		snap, err := m.store.Load(server)
		if err != nil {
			m.logger.WithError(err).WithField("server", server).Warn("Skipping unreadable cache entry")
			continue
		}
		out = append(out, CachedServer{
			Server:   server,
			ActiveID: snap.ActiveID,
			Profiles: len(snap.Profiles),
			Snapshot: snap,
		})
	}
	return out, nil
}

// Load returns the snapshot for the configured server.
func (m *CacheManager) Load() (*models.ProfileSnapshot, error) {
	if m.store == nil {
		return nil, ErrCacheDisabled
	}
	return m.store.Load(m.server)
}

// Reset drops the snapshot for the configured server.
func (m *CacheManager) Reset() error {
	if m.store == nil {
		return ErrCacheDisabled
	}
	return m.store.Reset(m.server)
}

// MigrateTo copies every snapshot into the backend described by dst.
func (m *CacheManager) MigrateTo(dst *config.StateConfig) (int, error) {
	if m.store == nil {
		return 0, ErrCacheDisabled
	}

	target, err := state.Open(dst, m.logger)
	if err != nil {
		return 0, fmt.Errorf("open target cache: %w", err)
	}
	if target == nil {
		return 0, ErrCacheDisabled
	}
	defer target.Close()

	return state.Migrate(m.store, target, m.logger)
}
