package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// Transport combines HTTP and WebSocket functionality.
type Transport interface {
	// HTTP methods
	PostForm(ctx context.Context, path string, fields url.Values) (map[string]interface{}, error)
	CallRPC(ctx context.Context, path string, params interface{}, out interface{}) error

	// Login session
	SessionID() string
	SetSessionID(id string)

	// WebSocket methods
	Watch(ctx context.Context, path string) (<-chan models.Notification, error)

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient *HTTPClient
	logger     *events.Logger

	mu        sync.Mutex
	wsClients []*WSClient
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger, opts ...Option) *DefaultTransport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger, opts...),
		logger:     logger,
	}
}

// PostForm forwards to HTTP client.
func (t *DefaultTransport) PostForm(ctx context.Context, path string, fields url.Values) (map[string]interface{}, error) {
	return t.httpClient.PostForm(ctx, path, fields)
}

// CallRPC forwards to HTTP client.
func (t *DefaultTransport) CallRPC(ctx context.Context, path string, params interface{}, out interface{}) error {
	return t.httpClient.CallRPC(ctx, path, params, out)
}

// SessionID forwards to HTTP client.
func (t *DefaultTransport) SessionID() string {
	return t.httpClient.SessionID()
}

// SetSessionID forwards to HTTP client.
func (t *DefaultTransport) SetSessionID(id string) {
	t.httpClient.SetSessionID(id)
}

// Watch opens a notification stream. The stream shares the HTTP session
// cookies and stops when ctx ends or the transport is closed.
func (t *DefaultTransport) Watch(ctx context.Context, path string) (<-chan models.Notification, error) {
	header := http.Header{}
	var pairs []string
	for _, cookie := range t.httpClient.Cookies() {
		pairs = append(pairs, cookie.Name+"="+cookie.Value)
	}
	if len(pairs) > 0 {
		header.Set("Cookie", strings.Join(pairs, "; "))
	}

	ws := NewWSClient(t.httpClient.BaseURL()+path, header, t.logger)
	if err := ws.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}

	t.mu.Lock()
	t.wsClients = append(t.wsClients, ws)
	t.mu.Unlock()

	go func() {
		for err := range ws.Errors() {
			t.logger.WithError(err).Error("WebSocket error")
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-ws.done:
		}
		t.forget(ws)
	}()

	return ws.Messages(), nil
}

// Watching returns the number of open notification streams.
func (t *DefaultTransport) Watching() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.wsClients)
}

func (t *DefaultTransport) forget(ws *WSClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.wsClients {
		if c == ws {
			t.wsClients = append(t.wsClients[:i], t.wsClients[i+1:]...)
			return
		}
	}
}

// Close closes all connections.
func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	clients := t.wsClients
	t.wsClients = nil
	t.mu.Unlock()

	var firstErr error
	for _, ws := range clients {
		if err := ws.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
