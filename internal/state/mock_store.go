package state

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/roclient/internal/models"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.ProfileSnapshot

	// Error injection
	SaveError error
	LoadError error
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		snapshots: make(map[string]*models.ProfileSnapshot),
	}
}

// Load returns a copy of the stored snapshot.
func (m *MockStore) Load(server string) (*models.ProfileSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadError != nil {
		return nil, m.LoadError
	}
	if snap, ok := m.snapshots[server]; ok {
		return cloneSnapshot(snap), nil
	}
	return nil, ErrStateNotFound
}

// Save stores a copy of snap.
func (m *MockStore) Save(server string, snap *models.ProfileSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveError != nil {
		return m.SaveError
	}
	m.snapshots[server] = cloneSnapshot(snap)
	return nil
}

// Reset removes the snapshot for server.
func (m *MockStore) Reset(server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, server)
	return nil
}

// List returns all stored servers.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]string, 0, len(m.snapshots))
	for server := range m.snapshots {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
