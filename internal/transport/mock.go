package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/TheMichaelB/roclient/internal/models"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by path
	FormResponses map[string]map[string]interface{}
	RPCResponses  map[string]interface{}
	Notifications []models.Notification

	// Error injection, keyed by path
	Errors     map[string]error
	WatchError error

	// Request tracking
	FormRequests  []FormRequest
	RPCRequests   []RPCCall
	WatchRequests []string

	Session string

	watchers []chan models.Notification
	closed   bool
}

// FormRequest tracks form posts.
type FormRequest struct {
	Path   string
	Fields url.Values
}

// RPCCall tracks JSON-RPC calls.
type RPCCall struct {
	Path   string
	Params interface{}
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		FormResponses: make(map[string]map[string]interface{}),
		RPCResponses:  make(map[string]interface{}),
		Errors:        make(map[string]error),
	}
}

// PostForm mocks a form post. A path registered with a nil response
// answers with no body.
func (m *MockTransport) PostForm(ctx context.Context, path string, fields url.Values) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FormRequests = append(m.FormRequests, FormRequest{Path: path, Fields: cloneValues(fields)})

	if err := m.Errors[path]; err != nil {
		return nil, err
	}
	if resp, ok := m.FormResponses[path]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no mock response for %s", path)
}

// CallRPC mocks a JSON-RPC call by round-tripping the configured result
// through JSON into out.
func (m *MockTransport) CallRPC(ctx context.Context, path string, params interface{}, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RPCRequests = append(m.RPCRequests, RPCCall{Path: path, Params: params})

	if err := m.Errors[path]; err != nil {
		return err
	}
	resp, ok := m.RPCResponses[path]
	if !ok {
		return fmt.Errorf("no mock response for %s", path)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// SessionID returns the stored session.
func (m *MockTransport) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Session
}

// SetSessionID stores the session.
func (m *MockTransport) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Session = id
}

// Watch mocks a notification stream. Queued notifications are delivered
// first; Push sends more while the stream is open.
func (m *MockTransport) Watch(ctx context.Context, path string) (<-chan models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WatchRequests = append(m.WatchRequests, path)

	if m.WatchError != nil {
		return nil, m.WatchError
	}

	ch := make(chan models.Notification, len(m.Notifications)+16)
	for _, n := range m.Notifications {
		ch <- n
	}
	m.watchers = append(m.watchers, ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closeWatcher(ch)
	}()

	return ch, nil
}

// Push delivers a notification to every open stream.
func (m *MockTransport) Push(n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.watchers {
		ch <- n
	}
}

// Watching returns the number of open streams.
func (m *MockTransport) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for len(m.watchers) > 0 {
		m.closeWatcher(m.watchers[0])
	}
	return nil
}

// closeWatcher runs with mu held.
func (m *MockTransport) closeWatcher(ch chan models.Notification) {
	for i, w := range m.watchers {
		if w == ch {
			m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Helper methods for test setup

// AddFormResponse sets the answer for a form path.
func (m *MockTransport) AddFormResponse(path string, response map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FormResponses[path] = response
}

// AddRPCResponse sets the result for an RPC path.
func (m *MockTransport) AddRPCResponse(path string, result interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RPCResponses[path] = result
}

// AddError makes every call to path fail with err.
func (m *MockTransport) AddError(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[path] = err
}

// AddNotification queues a notification for the next Watch.
func (m *MockTransport) AddNotification(n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, n)
}

// Forms returns a copy of the recorded form posts.
func (m *MockTransport) Forms() []FormRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FormRequest(nil), m.FormRequests...)
}

// RPCs returns a copy of the recorded RPC calls.
func (m *MockTransport) RPCs() []RPCCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RPCCall(nil), m.RPCRequests...)
}

// CountRPC returns how many calls went to path.
func (m *MockTransport) CountRPC(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.RPCRequests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
