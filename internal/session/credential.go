package session

import (
	"sync"

	"github.com/TheMichaelB/roclient/internal/models"
)

// Credential caches the password of the active profile. A password is only
// ever reported for the profile it was entered for.
type Credential struct {
	registry *Registry

	mu        sync.Mutex
	profileID string
	password  string
}

// NewCredential binds a credential to the registry. It is cleared on every
// profile switch before any other registry listener runs.
func NewCredential(registry *Registry) *Credential {
	c := &Credential{registry: registry}
	registry.bindCredential(c)
	return c
}

// Has reports whether a password is cached for the active profile.
func (c *Credential) Has() bool {
	_, _, ok := c.Password()
	return ok
}

// Set caches password for the active profile.
func (c *Credential) Set(password string) error {
	active := c.registry.ActiveID()
	if active == "" {
		return models.ErrNoActiveProfile
	}
	return c.setFor(active, password)
}

// setFor caches password only if profileID is still the active profile.
func (c *Credential) setFor(profileID, password string) error {
	if password == "" {
		return models.ErrEmptyPassword
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch active := c.registry.ActiveID(); {
	case active == "":
		return models.ErrNoActiveProfile
	case active != profileID:
		return models.ErrProfileChanged
	}

	c.profileID = profileID
	c.password = password
	return nil
}

// Clear forgets the cached password.
func (c *Credential) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileID = ""
	c.password = ""
}

// forget clears the cache only while it still holds password for
// profileID.
func (c *Credential) forget(profileID, password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profileID != profileID || c.password != password {
		return false
	}
	c.profileID = ""
	c.password = ""
	return true
}

// Password returns the cached password and the profile it belongs to.
func (c *Credential) Password() (profileID, password string, ok bool) {
	active := c.registry.ActiveID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.password == "" || active == "" || c.profileID != active {
		return "", "", false
	}
	return c.profileID, c.password, true
}
