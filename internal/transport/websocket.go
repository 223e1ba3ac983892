package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// WSClient receives server push notifications over a websocket.
type WSClient struct {
	url    string
	header http.Header
	logger *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	messages chan models.Notification
	errors   chan error
	done     chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a WebSocket client. http(s) URLs are rewritten to
// ws(s). header is sent with the handshake, typically the session cookie.
func NewWSClient(wsURL string, header http.Header, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	if header == nil {
		header = http.Header{}
	}

	return &WSClient{
		url:          wsURL,
		header:       header,
		logger:       logger.WithField("component", "ws_client"),
		messages:     make(chan models.Notification, 32),
		errors:       make(chan error, 4),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes the WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}
	if c.closed {
		return fmt.Errorf("client closed")
	}

	c.logger.WithField("url", c.url).Info("Connecting to WebSocket")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn

	go c.readLoop(conn)
	go c.pingLoop()

	c.logger.Info("WebSocket connected")
	return nil
}

// Messages returns the notification channel. It is closed when the
// connection ends.
func (c *WSClient) Messages() <-chan models.Notification {
	return c.messages
}

// Errors returns the error channel. It is closed with Messages.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// readLoop reads notifications until the connection ends.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.Close()
		close(c.messages)
		close(c.errors)
	}()

	deadline := func() time.Time { return time.Now().Add(c.pongTimeout + c.pingInterval) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) && !c.isClosed() {
				c.logger.WithError(err).Error("WebSocket read error")
				c.errors <- err
			}
			return
		}
		_ = conn.SetReadDeadline(deadline())

		msg, err := models.ParseNotification(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping malformed notification")
			continue
		}
		if msg.Type == models.NotifyPing {
			continue
		}

		c.logger.WithFields(map[string]interface{}{
			"type":       msg.Type,
			"profile_id": msg.ProfileID,
		}).Debug("Received notification")

		select {
		case c.messages <- *msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pingLoop sends periodic pings.
func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout)); err != nil {
				c.logger.WithError(err).Warn("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
