package auth_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/services/auth"
	"github.com/TheMichaelB/roclient/internal/transport"
)

func TestAuthService(t *testing.T) {
	ctx := context.Background()
	logger := events.Discard()
	mockTransport := transport.NewMockTransport()
	sessionFile := filepath.Join(t.TempDir(), "auth", "session.json")

	service := auth.NewService(mockTransport, sessionFile, logger)

	t.Run("successful login", func(t *testing.T) {
		mockTransport.AddRPCResponse(auth.AuthenticatePath, map[string]interface{}{
			"uid":      7,
			"username": "alice",
			"db":       "prod",
		})
		// The server sets the cookie during authenticate.
		mockTransport.SetSessionID("sid-123")

		sess, err := service.Login(ctx, "", "alice", "secret")
		require.NoError(t, err)

		assert.Equal(t, "sid-123", sess.SessionID)
		assert.Equal(t, int64(7), sess.UserID)
		assert.Equal(t, "prod", sess.Database)
		assert.FileExists(t, sessionFile)

		calls := mockTransport.RPCs()
		require.NotEmpty(t, calls)
		req, ok := calls[len(calls)-1].Params.(models.AuthRequest)
		require.True(t, ok)
		assert.Equal(t, "alice", req.Login)
		assert.Equal(t, "secret", req.Password)
	})

	t.Run("session persistence", func(t *testing.T) {
		other := transport.NewMockTransport()
		service2 := auth.NewService(other, sessionFile, logger)

		sess, err := service2.Restore()
		require.NoError(t, err)
		assert.Equal(t, "sid-123", sess.SessionID)
		assert.Equal(t, "sid-123", other.SessionID())
	})

	t.Run("password is not saved", func(t *testing.T) {
		data, err := os.ReadFile(sessionFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "secret")
	})

	t.Run("logout", func(t *testing.T) {
		mockTransport.AddRPCResponse(auth.DestroyPath, nil)

		require.NoError(t, service.Logout(ctx))

		assert.Nil(t, service.Current())
		assert.Empty(t, mockTransport.SessionID())
		assert.NoFileExists(t, sessionFile)
		assert.Equal(t, 1, mockTransport.CountRPC(auth.DestroyPath))

		_, err := auth.NewService(transport.NewMockTransport(), sessionFile, logger).Restore()
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})
}

func TestAuthLoginFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(*transport.MockTransport)
		login   string
		pass    string
		wantErr string
	}{
		{
			name:    "missing password",
			login:   "alice",
			wantErr: "login and password required",
		},
		{
			name: "wrong credentials",
			setup: func(m *transport.MockTransport) {
				m.AddRPCResponse(auth.AuthenticatePath, map[string]interface{}{"uid": false})
			},
			login: "alice", pass: "bad",
			wantErr: "Wrong login/password",
		},
		{
			name: "server error",
			setup: func(m *transport.MockTransport) {
				m.AddError(auth.AuthenticatePath, &models.RPCError{Message: "Access Denied"})
			},
			login: "alice", pass: "pw",
			wantErr: "Access Denied",
		},
		{
			name: "no session cookie",
			setup: func(m *transport.MockTransport) {
				m.AddRPCResponse(auth.AuthenticatePath, map[string]interface{}{"uid": 2})
			},
			login: "alice", pass: "pw",
			wantErr: "missing session cookie",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := transport.NewMockTransport()
			if tt.setup != nil {
				tt.setup(mt)
			}
			service := auth.NewService(mt, "", events.Discard())

			_, err := service.Login(ctx, "db", tt.login, tt.pass)

			assert.ErrorContains(t, err, tt.wantErr)
			assert.Nil(t, service.Current())
		})
	}
}

func TestAuthEnsureAuthenticated(t *testing.T) {
	ctx := context.Background()

	t.Run("no session and no credentials", func(t *testing.T) {
		service := auth.NewService(transport.NewMockTransport(), "", events.Discard())

		assert.ErrorIs(t, service.EnsureAuthenticated(ctx), models.ErrNotAuthenticated)
	})

	t.Run("logs in with credentials", func(t *testing.T) {
		mt := transport.NewMockTransport()
		mt.AddRPCResponse(auth.AuthenticatePath, map[string]interface{}{"uid": 3})
		mt.SetSessionID("fresh")
		service := auth.NewService(mt, "", events.Discard())
		service.SetCredentials(&auth.Credentials{Database: "db", Login: "bob", Password: "pw"})

		require.NoError(t, service.EnsureAuthenticated(ctx))

		require.NotNil(t, service.Current())
		assert.Equal(t, "bob", service.Current().Login)
	})

	t.Run("saved session still valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		writeSession(t, path)
		mt := transport.NewMockTransport()
		mt.AddRPCResponse(auth.SessionInfoPath, map[string]interface{}{"uid": 5})
		service := auth.NewService(mt, path, events.Discard())

		require.NoError(t, service.EnsureAuthenticated(ctx))

		assert.Equal(t, "saved", mt.SessionID())
		assert.Zero(t, mt.CountRPC(auth.AuthenticatePath))
	})

	t.Run("expired session without credentials", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		writeSession(t, path)
		mt := transport.NewMockTransport()
		mt.AddRPCResponse(auth.SessionInfoPath, map[string]interface{}{"uid": nil})
		service := auth.NewService(mt, path, events.Discard())

		err := service.EnsureAuthenticated(ctx)

		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
		assert.Empty(t, mt.SessionID())
	})

	t.Run("session check unreachable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		writeSession(t, path)
		mt := transport.NewMockTransport()
		mt.AddError(auth.SessionInfoPath, errors.New("down"))
		service := auth.NewService(mt, path, events.Discard())

		assert.ErrorContains(t, service.EnsureAuthenticated(ctx), "check session")
	})
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database":"prod","login":"alice","password":"pw"}`), 0600))

	c, err := auth.LoadCredentials(path)

	require.NoError(t, err)
	assert.Equal(t, &auth.Credentials{Database: "prod", Login: "alice", Password: "pw"}, c)

	_, err = auth.LoadCredentials(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func writeSession(t *testing.T, path string) {
	t.Helper()
	data := `{"session_id":"saved","uid":5,"login":"alice","db":"prod","created_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
}
