// Package session holds the profile/session state machine: the profile
// registry, the cached credential of the active profile, the response
// classifier and the coordinator that drives encrypt/decrypt requests.
package session

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/cases"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// EventType identifies a registry notification.
type EventType int

const (
	// EventLoaded fires once after a batch load or reload.
	EventLoaded EventType = iota
	// EventProfileChanged fires after the active profile changed.
	EventProfileChanged
)

func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventProfileChanged:
		return "profile_changed"
	default:
		return "unknown"
	}
}

// Event is delivered to registry listeners.
type Event struct {
	Type       EventType
	PreviousID string
	ActiveID   string
	Count      int
}

// Listener receives registry events synchronously. Listeners must not call
// back into Select, LoadAll or Reload.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Registry owns the known profiles and tracks which one is active.
type Registry struct {
	// switchMu serializes every mutation together with its notifications,
	// so listeners observe events in the order the changes happened.
	switchMu sync.Mutex

	mu       sync.RWMutex
	profiles map[string]models.Profile
	activeID string

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int

	// credential is cleared before any listener runs.
	credential *Credential

	logger *events.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *events.Logger) *Registry {
	return &Registry{
		profiles: make(map[string]models.Profile),
		logger:   logger.WithField("component", "profile_registry"),
	}
}

// LoadAll inserts every accessible profile, replacing entries with the same
// id, then inserts current and makes it active when non-nil. Listeners get a
// single EventLoaded after the whole batch.
func (r *Registry) LoadAll(current *models.Profile, accessible []models.Profile) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	for _, p := range accessible {
		r.profiles[p.ID] = p.Clone()
	}
	prev := r.activeID
	if current != nil {
		r.profiles[current.ID] = current.Clone()
		r.activeID = current.ID
	}
	active := r.activeID
	count := len(r.profiles)
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"count":  count,
		"active": active,
	}).Debug("Profiles loaded")

	if active != prev {
		r.emit(Event{Type: EventProfileChanged, PreviousID: prev, ActiveID: active})
	}
	r.emit(Event{Type: EventLoaded, ActiveID: active, Count: count})
}

// Reload replaces the whole profile set. The server's current profile wins;
// without one the previous active profile is kept if it still exists.
func (r *Registry) Reload(current *models.Profile, accessible []models.Profile) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	next := make(map[string]models.Profile, len(accessible)+1)
	for _, p := range accessible {
		next[p.ID] = p.Clone()
	}
	if current != nil {
		next[current.ID] = current.Clone()
	}

	r.mu.Lock()
	prev := r.activeID
	switch {
	case current != nil:
		r.activeID = current.ID
	default:
		if _, ok := next[prev]; !ok {
			r.activeID = ""
		}
	}
	r.profiles = next
	active := r.activeID
	count := len(next)
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"count":  count,
		"active": active,
	}).Info("Profiles reloaded")

	if active != prev {
		r.emit(Event{Type: EventProfileChanged, PreviousID: prev, ActiveID: active})
	}
	r.emit(Event{Type: EventLoaded, ActiveID: active, Count: count})
}

// Select makes profileID active. Selecting the active profile is a no-op.
func (r *Registry) Select(profileID string) error {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	if profileID == r.activeID {
		r.mu.Unlock()
		return nil
	}
	if _, ok := r.profiles[profileID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("select %s: %w", profileID, models.ErrProfileNotFound)
	}
	prev := r.activeID
	r.activeID = profileID
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"from": prev,
		"to":   profileID,
	}).Info("Active profile changed")

	r.emit(Event{Type: EventProfileChanged, PreviousID: prev, ActiveID: profileID})
	return nil
}

// Get returns a copy of the profile with the given id.
func (r *Registry) Get(profileID string) (models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[profileID]
	if !ok {
		return models.Profile{}, fmt.Errorf("get %s: %w", profileID, models.ErrProfileNotFound)
	}
	return p.Clone(), nil
}

// Active returns a copy of the active profile.
func (r *Registry) Active() (models.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return models.Profile{}, false
	}
	return r.profiles[r.activeID].Clone(), true
}

// ActiveID returns the active profile id, empty when none is selected.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// List returns copies of all profiles ordered by display name, then id.
func (r *Registry) List() []models.Profile {
	r.mu.RLock()
	out := make([]models.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := foldName(out[i].Label()), foldName(out[j].Label())
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of known profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// FindByName looks a profile up by display name, ignoring case.
func (r *Registry) FindByName(name string) (models.Profile, error) {
	want := foldName(name)
	if want == "" {
		return models.Profile{}, fmt.Errorf("find: empty name: %w", models.ErrProfileNotFound)
	}
	for _, p := range r.List() {
		if foldName(p.DisplayName) == want {
			return p, nil
		}
	}
	return models.Profile{}, fmt.Errorf("find %q: %w", name, models.ErrProfileNotFound)
}

// Resolve accepts either a profile id or a display name.
func (r *Registry) Resolve(ref string) (models.Profile, error) {
	if p, err := r.Get(ref); err == nil {
		return p, nil
	}
	return r.FindByName(ref)
}

// Subscribe registers a listener and returns a function removing it.
func (r *Registry) Subscribe(fn Listener) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()

	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		for i, l := range r.listeners {
			if l.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// foldName builds a fresh Caser per call; a Caser is stateful and must not
// be shared between goroutines.
func foldName(s string) string {
	return cases.Fold().String(s)
}

func (r *Registry) bindCredential(c *Credential) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.credential = c
}

// emit runs with switchMu held.
func (r *Registry) emit(ev Event) {
	r.lmu.Lock()
	cred := r.credential
	listeners := make([]listenerEntry, len(r.listeners))
	copy(listeners, r.listeners)
	r.lmu.Unlock()

	if ev.Type == EventProfileChanged && cred != nil {
		cred.Clear()
	}

	for _, l := range listeners {
		l.fn(ev)
	}
}
