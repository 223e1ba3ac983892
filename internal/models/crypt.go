package models

import "fmt"

// OperationKind selects the remote crypt endpoint.
type OperationKind string

const (
	OpEncrypt OperationKind = "encrypt"
	OpDecrypt OperationKind = "decrypt"
)

// Valid reports whether k names a known operation.
func (k OperationKind) Valid() bool {
	return k == OpEncrypt || k == OpDecrypt
}

// ParseOperationKind converts user input into an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return k, nil
}

// CryptRequest is a single encrypt or decrypt call. It lives only for the
// duration of the remote call.
type CryptRequest struct {
	Kind      OperationKind
	Payload   string
	ProfileID string
	Password  string
	CSRFToken string
}

// Envelope is the common shape of every server response. A nil *Envelope
// means no usable response arrived.
type Envelope struct {
	Errors []string               `json:"errors"`
	Data   string                 `json:"data,omitempty"`
	Fields map[string]interface{} `json:"-"`
}

// EnvelopeFromMap decodes a generic JSON object into an Envelope. A nil map
// yields a nil Envelope.
func EnvelopeFromMap(m map[string]interface{}) *Envelope {
	if m == nil {
		return nil
	}

	env := &Envelope{Fields: make(map[string]interface{}, len(m))}
	for k, v := range m {
		switch k {
		case "errors":
			env.Errors = stringList(v)
		case "data":
			if s, ok := v.(string); ok {
				env.Data = s
			} else if v != nil {
				env.Data = fmt.Sprint(v)
			}
		default:
			env.Fields[k] = v
		}
	}
	return env
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		if list != "" {
			return []string{list}
		}
	}
	return nil
}

// Session holds process-wide values set once at startup.
type Session struct {
	csrfToken string
}

// NewSession freezes the anti-forgery token for the life of the process.
func NewSession(csrfToken string) *Session {
	return &Session{csrfToken: csrfToken}
}

// CSRFToken returns the anti-forgery token, empty for a nil session.
func (s *Session) CSRFToken() string {
	if s == nil {
		return ""
	}
	return s.csrfToken
}
