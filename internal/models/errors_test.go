package models_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/roclient/internal/models"
)

func TestValidationError(t *testing.T) {
	err := &models.ValidationError{Errors: []string{"bad password", "locked"}}

	assert.Equal(t, "rejected by server: bad password; locked", err.Error())
	assert.Equal(t, []string{"bad password", "locked"}, models.Messages(err))
	assert.Equal(t, models.ErrCodeValidation, models.Code(err))
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("encrypt: %w", &models.TransportError{Op: "encrypt", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{models.UnknownErrorMessage}, models.Messages(err))
	assert.Equal(t, models.ErrCodeTransport, models.Code(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"nil", nil, nil},
		{"no active profile", models.ErrNoActiveProfile, []string{"No profile is selected."}},
		{"cancelled", fmt.Errorf("wrap: %w", models.ErrUserCancelled), []string{"Password entry was cancelled."}},
		{"not found", models.ErrProfileNotFound, []string{"The selected profile does not exist."}},
		{"profile changed", models.ErrProfileChanged, []string{"The active profile changed, please retry."}},
		{"empty validation list", &models.ValidationError{}, []string{models.UnknownErrorMessage}},
		{"anything else", context.DeadlineExceeded, []string{models.UnknownErrorMessage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.Messages(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, models.ErrCodeNoActiveProfile, models.Code(models.ErrNoActiveProfile))
	assert.Equal(t, models.ErrCodeUserCancelled, models.Code(models.ErrUserCancelled))
	assert.Equal(t, models.ErrCodeProfileNotFound, models.Code(models.ErrProfileNotFound))
	assert.Equal(t, models.ErrCodeProfileChanged, models.Code(models.ErrProfileChanged))
	assert.Equal(t, models.ErrCodeUnknown, models.Code(errors.New("boom")))
	assert.Equal(t, models.ErrCodeValidation, models.Code(&models.RPCError{}))
}

func TestRPCError(t *testing.T) {
	err := &models.RPCError{Number: 200, Message: "Odoo Server Error"}
	err.Data.Message = "Access Denied"

	assert.Equal(t, "rpc error 200: Odoo Server Error: Access Denied", err.Error())
	assert.Equal(t, []string{"Access Denied"}, models.Messages(err))
	assert.Equal(t, models.ErrCodeValidation, models.Code(fmt.Errorf("login: %w", err)))
}

func TestAPIError(t *testing.T) {
	assert.Equal(t, "API error 403: forbidden", (&models.APIError{StatusCode: 403, Message: "forbidden"}).Error())
	assert.Equal(t, "API error 502", (&models.APIError{StatusCode: 502}).Error())
}
