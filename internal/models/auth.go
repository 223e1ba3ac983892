package models

import (
	"errors"
	"time"
)

// ErrNotAuthenticated means there is no usable server login session.
var ErrNotAuthenticated = errors.New("not logged in")

// AuthRequest is the parameter block of a session login.
type AuthRequest struct {
	Database string `json:"db"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginSession is a server login kept between runs. It holds the session
// cookie, never the password.
type LoginSession struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"uid"`
	Login     string    `json:"login"`
	Database  string    `json:"db"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session can be reused.
func (s *LoginSession) Valid() bool {
	return s != nil && s.SessionID != "" && s.UserID > 0
}
