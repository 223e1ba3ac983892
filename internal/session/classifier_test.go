package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/session"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		env     *models.Envelope
		success bool
		errors  []string
	}{
		{
			name:   "absent envelope",
			env:    nil,
			errors: []string{models.UnknownErrorMessage},
		},
		{
			name:    "empty errors",
			env:     &models.Envelope{Errors: []string{}},
			success: true,
		},
		{
			name:    "nil errors",
			env:     &models.Envelope{Data: "x"},
			success: true,
		},
		{
			name:   "server errors verbatim",
			env:    &models.Envelope{Errors: []string{"bad password"}},
			errors: []string{"bad password"},
		},
		{
			name:   "order kept",
			env:    &models.Envelope{Errors: []string{"b", "a", "b"}},
			errors: []string{"b", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.Classify(tt.env)

			assert.Equal(t, tt.success, got.Success)
			assert.Equal(t, tt.errors, got.Errors)
			if tt.success {
				assert.NoError(t, got.Err())
			} else {
				var verr *models.ValidationError
				require.ErrorAs(t, got.Err(), &verr)
				assert.Equal(t, tt.errors, verr.Messages())
			}
		})
	}

	t.Run("errors are copied", func(t *testing.T) {
		env := &models.Envelope{Errors: []string{"one"}}
		got := session.Classify(env)
		got.Errors[0] = "changed"
		assert.Equal(t, "one", env.Errors[0])
	})
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleSuccess(ctx context.Context, env *models.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

func (m *mockHandler) HandleFailure(ctx context.Context, errs []string) error {
	return m.Called(ctx, errs).Error(0)
}

func TestRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		h := &mockHandler{}
		env := &models.Envelope{Data: "ok"}
		h.On("HandleSuccess", ctx, env).Return(nil).Once()

		c, err := session.Route(ctx, env, h)

		require.NoError(t, err)
		assert.True(t, c.Success)
		h.AssertExpectations(t)
		h.AssertNotCalled(t, "HandleFailure", mock.Anything, mock.Anything)
	})

	t.Run("failure", func(t *testing.T) {
		h := &mockHandler{}
		h.On("HandleFailure", ctx, []string{models.UnknownErrorMessage}).Return(nil).Once()

		c, err := session.Route(ctx, nil, h)

		require.NoError(t, err)
		assert.False(t, c.Success)
		h.AssertExpectations(t)
	})

	t.Run("handler error surfaces", func(t *testing.T) {
		h := &mockHandler{}
		boom := errors.New("boom")
		h.On("HandleFailure", ctx, []string{"nope"}).Return(boom)

		_, err := session.Route(ctx, &models.Envelope{Errors: []string{"nope"}}, h)

		assert.ErrorIs(t, err, boom)
	})
}
