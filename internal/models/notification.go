package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType identifies a server push message.
type NotificationType string

const (
	// NotifyProfilesChanged means the set of accessible profiles changed.
	NotifyProfilesChanged NotificationType = "profiles_changed"
	// NotifyProfileSwitched means the session's active profile changed
	// server-side, e.g. from another browser tab.
	NotifyProfileSwitched NotificationType = "profile_switched"
	// NotifyPing keeps idle connections open.
	NotifyPing NotificationType = "ping"
)

// Notification is a message pushed by the server over the websocket.
type Notification struct {
	Type      NotificationType `json:"type"`
	ProfileID string           `json:"profile_id,omitempty"`
	Received  time.Time        `json:"-"`
	Raw       json.RawMessage  `json:"-"`
}

// ParseNotification decodes a push message. The profile id may be sent as
// a number or a string.
func ParseNotification(data []byte) (*Notification, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}

	typ, _ := raw["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("parse notification: missing type")
	}

	n := &Notification{
		Type:     NotificationType(typ),
		Received: time.Now(),
		Raw:      append(json.RawMessage(nil), data...),
	}
	if v, ok := raw["profile_id"]; ok && v != nil {
		id, err := recordID(v)
		if err != nil {
			return nil, fmt.Errorf("parse notification: %w", err)
		}
		n.ProfileID = id
	}
	return n, nil
}
