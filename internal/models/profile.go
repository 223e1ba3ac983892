package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Profile is a named cryptographic identity the user may act as.
type Profile struct {
	ID          string                 `json:"id"`
	DisplayName string                 `json:"name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy that shares nothing mutable with p.
func (p Profile) Clone() Profile {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Label is the name shown to users, falling back to the id.
func (p Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// ProfileFromRecord builds a Profile from a server record. The id may be a
// JSON number or string; "name" and "display_name" are both accepted, and
// every other key lands in Metadata.
func ProfileFromRecord(rec map[string]interface{}) (Profile, error) {
	id, err := recordID(rec["id"])
	if err != nil {
		return Profile{}, err
	}

	p := Profile{ID: id}
	for k, v := range rec {
		switch k {
		case "id":
		case "name", "display_name":
			if s, ok := v.(string); ok && p.DisplayName == "" {
				p.DisplayName = s
			}
		default:
			if p.Metadata == nil {
				p.Metadata = make(map[string]interface{})
			}
			p.Metadata[k] = v
		}
	}
	return p, nil
}

func recordID(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%d", int64(id)), nil
	case int:
		return fmt.Sprintf("%d", id), nil
	case int64:
		return fmt.Sprintf("%d", id), nil
	case json.Number:
		return id.String(), nil
	}
	return "", fmt.Errorf("%w: missing or invalid id %v", ErrInvalidRecord, v)
}

// ProfileSnapshot is the locally cached result of the last profile load.
// It never carries passwords.
type ProfileSnapshot struct {
	ActiveID string    `json:"active_id,omitempty"`
	Profiles []Profile `json:"profiles"`
	SavedAt  time.Time `json:"saved_at"`
}
