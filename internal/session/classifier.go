package session

import (
	"context"

	"github.com/TheMichaelB/roclient/internal/models"
)

// Classification is the verdict on a server response.
type Classification struct {
	Success bool
	Errors  []string
}

// Err converts a failed classification into a *models.ValidationError.
func (c Classification) Err() error {
	if c.Success {
		return nil
	}
	return &models.ValidationError{Errors: c.Errors}
}

// Classify decides whether a response succeeded. A missing envelope is a
// failure with the generic unknown-error message; an envelope with no errors
// is a success; anything else fails with the errors verbatim.
func Classify(env *models.Envelope) Classification {
	if env == nil {
		return Classification{Errors: []string{models.UnknownErrorMessage}}
	}
	if len(env.Errors) == 0 {
		return Classification{Success: true}
	}
	errs := make([]string, len(env.Errors))
	copy(errs, env.Errors)
	return Classification{Errors: errs}
}

// SubmitHandler receives the routed outcome of a submission.
type SubmitHandler interface {
	HandleSuccess(ctx context.Context, env *models.Envelope) error
	HandleFailure(ctx context.Context, errs []string) error
}

// Route classifies env and hands it to the matching handler method.
func Route(ctx context.Context, env *models.Envelope, h SubmitHandler) (Classification, error) {
	c := Classify(env)
	if c.Success {
		return c, h.HandleSuccess(ctx, env)
	}
	return c, h.HandleFailure(ctx, c.Errors)
}
