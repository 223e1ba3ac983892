// Package crypt performs encrypt and decrypt calls, either against the Red
// October server or locally for development.
package crypt

import (
	"context"
	"fmt"
	"net/url"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/forms"
	"github.com/TheMichaelB/roclient/internal/models"
)

// PathPrefix is followed by the operation kind.
const PathPrefix = "/red_october/crypt/"

// Form field names.
const (
	FieldData     = "data"
	FieldPassword = "password"
	FieldUserID   = "user_id"
)

// RemoteService posts crypt requests to the server.
type RemoteService struct {
	poster forms.Poster
	logger *events.Logger
}

// NewRemoteService creates a service on top of a form poster, usually the
// transport.
func NewRemoteService(poster forms.Poster, logger *events.Logger) *RemoteService {
	return &RemoteService{
		poster: poster,
		logger: logger.WithField("service", "crypt"),
	}
}

// Crypt sends req and returns the server envelope. A nil envelope with a
// nil error means the server answered with no body.
func (s *RemoteService) Crypt(ctx context.Context, req models.CryptRequest) (*models.Envelope, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown operation %q", req.Kind)
	}

	fields := url.Values{
		FieldData:       {req.Payload},
		FieldPassword:   {req.Password},
		FieldUserID:     {req.ProfileID},
		forms.CSRFField: {req.CSRFToken},
	}

	path := PathPrefix + string(req.Kind)
	resp, err := s.poster.PostForm(ctx, path, fields)
	if err != nil {
		s.logger.WithError(err).WithField("kind", req.Kind).Debug("Crypt call failed")
		return nil, &models.TransportError{Op: string(req.Kind), Err: err}
	}

	return models.EnvelopeFromMap(resp), nil
}
