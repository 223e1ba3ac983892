package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/transport"
)

func newClient(t *testing.T, baseURL string) *transport.HTTPClient {
	t.Helper()
	cfg := &config.APIConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "test",
	}
	var buf bytes.Buffer
	return transport.NewHTTPClient(cfg, events.NewTestLogger(events.DebugLevel, "json", &buf))
}

func TestHTTPClientPostForm(t *testing.T) {
	t.Run("sends form fields", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/red_october/crypt/encrypt", r.URL.Path)
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.Equal(t, "test", r.Header.Get("User-Agent"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "hello", r.PostForm.Get("data"))
			assert.Equal(t, "tok", r.PostForm.Get("csrf_token"))
			_, _ = w.Write([]byte(`{"errors": [], "data": "ct"}`))
		}))
		defer server.Close()

		resp, err := newClient(t, server.URL).PostForm(context.Background(), "/red_october/crypt/encrypt",
			url.Values{"data": {"hello"}, "csrf_token": {"tok"}})

		require.NoError(t, err)
		assert.Equal(t, "ct", resp["data"])
	})

	t.Run("empty and null bodies", func(t *testing.T) {
		for _, body := range []string{"", "null", "  \n"} {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))

			resp, err := newClient(t, server.URL).PostForm(context.Background(), "/x", nil)

			assert.NoError(t, err, "body %q", body)
			assert.Nil(t, resp, "body %q", body)
			server.Close()
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"errors": []}`))
		}))
		defer server.Close()

		resp, err := newClient(t, server.URL).PostForm(context.Background(), "/x", nil)

		require.NoError(t, err)
		assert.NotNil(t, resp)
		assert.Equal(t, 3, attempts)
	})

	t.Run("client errors are final", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "csrf check failed"}`))
		}))
		defer server.Close()

		_, err := newClient(t, server.URL).PostForm(context.Background(), "/x", nil)

		var apiErr *models.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "csrf check failed", apiErr.Message)
		assert.Equal(t, 1, attempts)
	})

	t.Run("invalid json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}))
		defer server.Close()

		_, err := newClient(t, server.URL).PostForm(context.Background(), "/x", nil)

		assert.ErrorContains(t, err, "parse response")
	})
}

func TestHTTPClientCallRPC(t *testing.T) {
	t.Run("decodes result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req models.RPCRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "2.0", req.JSONRPC)
			assert.Equal(t, "call", req.Method)
			assert.NotEmpty(t, req.ID)

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  []map[string]interface{}{{"id": 7, "name": "Ops"}},
			})
		}))
		defer server.Close()

		var out []map[string]interface{}
		err := newClient(t, server.URL).CallRPC(context.Background(), "/rpc", nil, &out)

		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Ops", out[0]["name"])
	})

	t.Run("rpc error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":200,"message":"Server Error","data":{"name":"AccessError","message":"not allowed"}}}`))
		}))
		defer server.Close()

		err := newClient(t, server.URL).CallRPC(context.Background(), "/rpc", nil, nil)

		var rpcErr *models.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, []string{"not allowed"}, models.Messages(err))
	})
}

func TestHTTPClientKeepsSessionCookie(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session_id"); err == nil {
			seen = append(seen, c.Value)
		}
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":true}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	require.NoError(t, client.CallRPC(context.Background(), "/a", nil, nil))
	require.NoError(t, client.CallRPC(context.Background(), "/b", nil, nil))

	assert.Equal(t, []string{"abc"}, seen)
	require.Len(t, client.Cookies(), 1)
	assert.Equal(t, "abc", client.SessionID())
}

func TestHTTPClientSetSessionID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ""
		if c, err := r.Cookie(transport.SessionCookie); err == nil {
			got = c.Value
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":true}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	client.SetSessionID("saved")
	require.NoError(t, client.CallRPC(context.Background(), "/a", nil, nil))
	assert.Equal(t, "saved", got)
	assert.Equal(t, "saved", client.SessionID())

	client.SetSessionID("")
	require.NoError(t, client.CallRPC(context.Background(), "/a", nil, nil))
	assert.Empty(t, got)
	assert.Empty(t, client.SessionID())
}

func TestWebSocketNotifications(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/red_october/notifications", r.URL.Path)
		assert.Equal(t, "session_id=abc", r.Header.Get("Cookie"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"profile_switched","profile_id":4}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"profiles_changed"}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Cookie", "session_id=abc")
	var buf bytes.Buffer
	client := transport.NewWSClient(server.URL+"/red_october/notifications", header,
		events.NewTestLogger(events.DebugLevel, "json", &buf))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	var got []models.Notification
	for msg := range client.Messages() {
		got = append(got, msg)
	}

	require.Len(t, got, 2)
	assert.Equal(t, models.NotifyProfileSwitched, got[0].Type)
	assert.Equal(t, "4", got[0].ProfileID)
	assert.Equal(t, models.NotifyProfilesChanged, got[1].Type)
}

func TestWebSocketConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := transport.NewWSClient(server.URL, nil, events.Discard())

	err := client.Connect(context.Background())

	assert.ErrorContains(t, err, "HTTP 401")
}

func TestTransportDropsEndedStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	tr := transport.NewTransport(&config.APIConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, events.Discard())
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		ch, err := tr.Watch(ctx, "/red_october/notifications")
		require.NoError(t, err)
		for range ch {
		}
	}

	assert.Eventually(t, func() bool { return tr.Watching() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestMockTransport(t *testing.T) {
	m := transport.NewMockTransport()
	ctx := context.Background()

	t.Run("form responses and errors per path", func(t *testing.T) {
		m.AddFormResponse("/ok", map[string]interface{}{"errors": []interface{}{}})
		m.AddError("/down", errors.New("down"))

		resp, err := m.PostForm(ctx, "/ok", url.Values{"a": {"1"}})
		require.NoError(t, err)
		assert.NotNil(t, resp)

		_, err = m.PostForm(ctx, "/down", nil)
		assert.EqualError(t, err, "down")

		_, err = m.PostForm(ctx, "/unknown", nil)
		assert.Error(t, err)

		forms := m.Forms()
		require.Len(t, forms, 3)
		assert.Equal(t, "1", forms[0].Fields.Get("a"))
	})

	t.Run("rpc round trip", func(t *testing.T) {
		m.AddRPCResponse("/rpc", map[string]interface{}{"id": 3})

		var out struct{ ID int }
		require.NoError(t, m.CallRPC(ctx, "/rpc", nil, &out))
		assert.Equal(t, 3, out.ID)
		assert.Equal(t, 1, m.CountRPC("/rpc"))
	})

	t.Run("watch delivers queued and pushed", func(t *testing.T) {
		m.AddNotification(models.Notification{Type: models.NotifyProfilesChanged})
		wctx, cancel := context.WithCancel(ctx)

		ch, err := m.Watch(wctx, "/n")
		require.NoError(t, err)
		m.Push(models.Notification{Type: models.NotifyProfileSwitched, ProfileID: "2"})

		assert.Equal(t, models.NotifyProfilesChanged, (<-ch).Type)
		assert.Equal(t, "2", (<-ch).ProfileID)

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, time.Second, time.Millisecond)
	})
}
