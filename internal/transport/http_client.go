package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// HTTPClient handles HTTP communication with the server. Session cookies
// are kept in a jar so that every call runs in the same server session.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// Option customises an HTTPClient.
type Option func(*http.Transport)

// WithInsecureTLS disables certificate verification. Development only.
func WithInsecureTLS(skip bool) Option {
	return func(t *http.Transport) {
		t.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// retryableStatusError marks a response worth retrying.
type retryableStatusError struct {
	status int
	body   string
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.status, e.body)
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger, opts ...Option) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	for _, opt := range opts {
		opt(transport)
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	// cookiejar.New only fails for a non-nil PublicSuffixList.
	jar, _ := cookiejar.New(nil)

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// BaseURL returns the server root without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Cookies returns the session cookies the jar holds for the server.
func (c *HTTPClient) Cookies() []*http.Cookie {
	u, err := url.Parse(c.baseURL)
	if err != nil || c.client.Jar == nil {
		return nil
	}
	return c.client.Jar.Cookies(u)
}

// SessionCookie is the cookie that carries the server login session.
const SessionCookie = "session_id"

// SessionID returns the login session held in the jar, if any.
func (c *HTTPClient) SessionID() string {
	for _, cookie := range c.Cookies() {
		if cookie.Name == SessionCookie {
			return cookie.Value
		}
	}
	return ""
}

// SetSessionID installs a saved login session. An empty id drops it.
func (c *HTTPClient) SetSessionID(id string) {
	u, err := url.Parse(c.baseURL)
	if err != nil || c.client.Jar == nil {
		return
	}
	cookie := &http.Cookie{Name: SessionCookie, Value: id, Path: "/"}
	if id == "" {
		cookie.MaxAge = -1
	}
	c.client.Jar.SetCookies(u, []*http.Cookie{cookie})
}

// PostForm sends a form-encoded POST and decodes the JSON object answer.
// An empty or null body yields a nil map and no error.
func (c *HTTPClient) PostForm(ctx context.Context, path string, fields url.Values) (map[string]interface{}, error) {
	logFields := make([]string, 0, len(fields))
	for k := range fields {
		logFields = append(logFields, k)
	}
	c.logger.WithFields(map[string]interface{}{
		"method": "POST",
		"path":   path,
		"fields": logFields,
	}).Debug("Sending form")

	body, err := c.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", []byte(fields.Encode()))
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return result, nil
}

// CallRPC performs a JSON-RPC call and decodes its result into out, which
// may be nil.
func (c *HTTPClient) CallRPC(ctx context.Context, path string, params interface{}, out interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	payload, err := json.Marshal(models.RPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"method": "POST",
		"path":   path,
		"size":   len(payload),
	}).Debug("Sending rpc")

	body, err := c.do(ctx, http.MethodPost, path, "application/json", payload)
	if err != nil {
		return err
	}

	var resp models.RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// do executes one request with retry and returns the body of a 200 answer.
func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	target := c.baseURL + path

	var respBody []byte
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if c.isRetryable(resp.StatusCode) {
			return &retryableStatusError{status: resp.StatusCode, body: string(body)}
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &models.APIError{StatusCode: resp.StatusCode}
			if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(body))
			}
			apiErr.StatusCode = resp.StatusCode
			return apiErr
		}

		respBody = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(respBody),
	}).Debug("Received response")

	return respBody, nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError reports whether another attempt could succeed. Server
// answers other than 429/5xx and context errors are final.
func (c *HTTPClient) isRetryableError(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
