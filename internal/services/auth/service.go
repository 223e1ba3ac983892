// Package auth logs in to the server and keeps the login session between
// runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/storage"
	"github.com/TheMichaelB/roclient/internal/transport"
)

// Server endpoints.
const (
	AuthenticatePath = "/web/session/authenticate"
	DestroyPath      = "/web/session/destroy"
	SessionInfoPath  = "/web/session/get_session_info"
)

// Credentials for unattended login.
type Credentials struct {
	Database string `json:"database"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoadCredentials reads a credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}

// Service handles authentication operations.
type Service struct {
	transport transport.Transport
	logger    *events.Logger

	session     *models.LoginSession
	sessionFile string

	creds *Credentials
}

// NewService creates an auth service. sessionFile may be empty to keep the
// session in memory only.
func NewService(t transport.Transport, sessionFile string, logger *events.Logger) *Service {
	return &Service{
		transport:   t,
		sessionFile: sessionFile,
		logger:      logger.WithField("service", "auth"),
	}
}

// SetCredentials sets fallback values for Login.
func (s *Service) SetCredentials(c *Credentials) {
	s.creds = c
}

type sessionResult struct {
	UID      interface{} `json:"uid"`
	Username string      `json:"username"`
	DB       string      `json:"db"`
}

// uid is false or null when nobody is logged in.
func (r sessionResult) userID() int64 {
	if f, ok := r.UID.(float64); ok {
		return int64(f)
	}
	return 0
}

// Login authenticates and stores the session. Empty arguments fall back to
// the configured credentials.
func (s *Service) Login(ctx context.Context, database, login, password string) (*models.LoginSession, error) {
	if s.creds != nil {
		if database == "" {
			database = s.creds.Database
		}
		if login == "" {
			login = s.creds.Login
		}
		if password == "" {
			password = s.creds.Password
		}
	}

	if login == "" || password == "" {
		return nil, errors.New("login and password required")
	}

	log := s.logger.WithFields(map[string]interface{}{"login": login, "db": database})
	log.Info("Logging in")

	req := models.AuthRequest{Database: database, Login: login, Password: password}
	var res sessionResult
	if err := s.transport.CallRPC(ctx, AuthenticatePath, req, &res); err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}

	uid := res.userID()
	if uid == 0 {
		return nil, &models.ValidationError{Errors: []string{"Wrong login/password"}}
	}

	sessionID := s.transport.SessionID()
	if sessionID == "" {
		return nil, errors.New("invalid login response: missing session cookie")
	}

	s.session = &models.LoginSession{
		SessionID: sessionID,
		UserID:    uid,
		Login:     login,
		Database:  database,
		CreatedAt: time.Now(),
	}
	if res.DB != "" {
		s.session.Database = res.DB
	}

	if err := s.saveSession(); err != nil {
		log.WithError(err).Warn("Failed to save session")
	}

	log.WithField("uid", uid).Info("Login successful")
	return s.session, nil
}

// Logout ends the server session and forgets it locally.
func (s *Service) Logout(ctx context.Context) error {
	s.logger.Info("Logging out")

	if s.session.Valid() {
		if err := s.transport.CallRPC(ctx, DestroyPath, nil, nil); err != nil {
			s.logger.WithError(err).Warn("Server logout failed")
		}
	}

	s.session = nil
	s.transport.SetSessionID("")

	if s.sessionFile != "" {
		if err := os.Remove(s.sessionFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session file: %w", err)
		}
	}
	return nil
}

// Restore installs the saved session on the transport.
func (s *Service) Restore() (*models.LoginSession, error) {
	if s.session.Valid() {
		return s.session, nil
	}

	if err := s.loadSession(); err != nil || !s.session.Valid() {
		return nil, models.ErrNotAuthenticated
	}

	s.transport.SetSessionID(s.session.SessionID)
	return s.session, nil
}

// Current returns the session in use, or nil.
func (s *Service) Current() *models.LoginSession {
	if !s.session.Valid() {
		return nil
	}
	return s.session
}

// EnsureAuthenticated restores the saved session and checks the server
// still accepts it. When it does not and credentials are configured, it
// logs in again.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	if _, err := s.Restore(); err == nil {
		var info sessionResult
		err := s.transport.CallRPC(ctx, SessionInfoPath, nil, &info)
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if info.userID() != 0 {
			return nil
		}
		s.logger.Info("Saved session expired")
		s.session = nil
		s.transport.SetSessionID("")
	}

	if s.creds == nil {
		return models.ErrNotAuthenticated
	}
	_, err := s.Login(ctx, "", "", "")
	return err
}

// Session persistence

func (s *Service) saveSession() error {
	if s.sessionFile == "" || s.session == nil {
		return nil
	}

	data, err := json.Marshal(s.session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return storage.WriteAtomic(s.sessionFile, data, 0600)
}

func (s *Service) loadSession() error {
	if s.sessionFile == "" {
		return fmt.Errorf("no session file configured")
	}

	data, err := os.ReadFile(s.sessionFile)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var session models.LoginSession
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("parse session: %w", err)
	}

	s.session = &session
	return nil
}
