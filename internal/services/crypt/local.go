package crypt

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/TheMichaelB/roclient/internal/crypto"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// Messages the local backend reports, worded like the server's.
const (
	MsgInvalidPassword = "Invalid password"
	MsgInvalidData     = "Invalid data"
	MsgDecryptFailed   = "Could not decrypt data"
)

type enrolment struct {
	salt     []byte
	verifier []byte
}

// LocalService seals payloads in process. The first password used for a
// profile is enrolled; later requests with another password are rejected
// the way the server would.
type LocalService struct {
	provider crypto.Provider
	logger   *events.Logger

	mu       sync.Mutex
	enrolled map[string]enrolment
}

// NewLocalService creates a local backend.
func NewLocalService(provider crypto.Provider, logger *events.Logger) *LocalService {
	return &LocalService{
		provider: provider,
		logger:   logger.WithField("service", "local_crypt"),
		enrolled: make(map[string]enrolment),
	}
}

// Crypt encrypts or decrypts req.Payload with the profile password.
func (s *LocalService) Crypt(ctx context.Context, req models.CryptRequest) (*models.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown operation %q", req.Kind)
	}

	ok, err := s.checkPassword(req.ProfileID, req.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrEmptyPassword) {
			return rejected(MsgInvalidPassword), nil
		}
		return nil, err
	}
	if !ok {
		s.logger.WithField("profile_id", req.ProfileID).Debug("Password mismatch")
		return rejected(MsgInvalidPassword), nil
	}

	switch req.Kind {
	case models.OpEncrypt:
		token, err := s.provider.Seal(req.ProfileID, req.Password, []byte(req.Payload))
		if err != nil {
			return nil, err
		}
		return &models.Envelope{Data: token}, nil

	default:
		plain, err := s.provider.Open(req.ProfileID, req.Password, req.Payload)
		switch {
		case errors.Is(err, crypto.ErrInvalidToken):
			return rejected(MsgInvalidData), nil
		case errors.Is(err, crypto.ErrDecryptionFailed):
			return rejected(MsgDecryptFailed), nil
		case err != nil:
			return nil, err
		}
		return &models.Envelope{Data: string(plain)}, nil
	}
}

// Enrolled reports whether profileID has a password on record.
func (s *LocalService) Enrolled(profileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enrolled[profileID]
	return ok
}

// checkPassword runs under mu so two first requests cannot enrol
// different passwords.
func (s *LocalService) checkPassword(profileID, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.enrolled[profileID]; ok {
		v, err := s.provider.Verifier(profileID, password, e.salt)
		if err != nil {
			return false, err
		}
		return subtle.ConstantTimeCompare(v, e.verifier) == 1, nil
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return false, err
	}
	v, err := s.provider.Verifier(profileID, password, salt)
	if err != nil {
		return false, err
	}
	s.enrolled[profileID] = enrolment{salt: salt, verifier: v}
	s.logger.WithField("profile_id", profileID).Info("Enrolled profile password")
	return true, nil
}

func rejected(msg string) *models.Envelope {
	return &models.Envelope{Errors: []string{msg}}
}
