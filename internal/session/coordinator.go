package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// CryptoService is the remote encrypt/decrypt endpoint. A nil envelope with
// a nil error counts as "no response".
type CryptoService interface {
	Crypt(ctx context.Context, req models.CryptRequest) (*models.Envelope, error)
}

// Prompter asks the user for the password of a profile. It returns
// models.ErrUserCancelled when the user dismisses the prompt.
type Prompter interface {
	PromptPassword(ctx context.Context, profile models.Profile) (string, error)
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	// ForgetOnReject clears the cached password when the server rejects a
	// request. Off by default: a rejected password stays cached for retry.
	ForgetOnReject bool
}

// Result is a successful encrypt or decrypt.
type Result struct {
	Kind      models.OperationKind
	ProfileID string
	Data      string
}

// Outcome is the settled value of an asynchronous request.
type Outcome struct {
	Result *Result
	Err    error
}

// Coordinator makes sure a password is available for the active profile,
// prompting when needed, then calls the crypto service.
type Coordinator struct {
	registry   *Registry
	credential *Credential
	service    CryptoService
	prompter   Prompter
	session    *models.Session
	config     CoordinatorConfig
	logger     *events.Logger

	gate promptGate
}

// NewCoordinator wires a coordinator. cfg may be nil.
func NewCoordinator(
	registry *Registry,
	credential *Credential,
	service CryptoService,
	prompter Prompter,
	session *models.Session,
	cfg *CoordinatorConfig,
	logger *events.Logger,
) *Coordinator {
	c := &Coordinator{
		registry:   registry,
		credential: credential,
		service:    service,
		prompter:   prompter,
		session:    session,
		logger:     logger.WithField("component", "coordinator"),
	}
	if cfg != nil {
		c.config = *cfg
	}
	return c
}

// Encrypt is shorthand for Request(ctx, models.OpEncrypt, payload).
func (c *Coordinator) Encrypt(ctx context.Context, payload string) (*Result, error) {
	return c.Request(ctx, models.OpEncrypt, payload)
}

// Decrypt is shorthand for Request(ctx, models.OpDecrypt, payload).
func (c *Coordinator) Decrypt(ctx context.Context, payload string) (*Result, error) {
	return c.Request(ctx, models.OpDecrypt, payload)
}

// RequestAsync runs Request in the background and delivers its outcome on
// the returned channel, which receives exactly one value.
func (c *Coordinator) RequestAsync(ctx context.Context, kind models.OperationKind, payload string) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := c.Request(ctx, kind, payload)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// Request performs one encrypt or decrypt for the active profile.
//
// Errors are one of models.ErrNoActiveProfile, models.ErrUserCancelled,
// models.ErrProfileChanged, *models.ValidationError, *models.TransportError,
// or the context error when ctx ends first. An in-flight remote call is not
// cancelled with ctx; its late result is dropped.
func (c *Coordinator) Request(ctx context.Context, kind models.OperationKind, payload string) (*Result, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("request: unknown operation %q", kind)
	}

	log := c.logger.WithFields(map[string]interface{}{
		"request_id": uuid.NewString(),
		"kind":       string(kind),
	})

	profile, ok := c.registry.Active()
	if !ok {
		log.Debug("Rejected request without active profile")
		return nil, models.ErrNoActiveProfile
	}

	profileID, password, err := c.ensurePassword(ctx, profile, log)
	if err != nil {
		return nil, err
	}
	log = log.WithField("profile_id", profileID)

	req := models.CryptRequest{
		Kind:      kind,
		Payload:   payload,
		ProfileID: profileID,
		Password:  password,
		CSRFToken: c.session.CSRFToken(),
	}

	env, err := c.call(ctx, req, log)
	if err != nil {
		return nil, err
	}

	verdict := Classify(env)
	switch {
	case verdict.Success:
		log.Debug("Request succeeded")
		return &Result{Kind: kind, ProfileID: profileID, Data: env.Data}, nil
	case env == nil:
		log.Warn("Empty response from crypto service")
		return nil, &models.TransportError{Op: string(kind), Err: errors.New("empty response")}
	default:
		log.WithField("errors", verdict.Errors).Info("Request rejected by server")
		if c.config.ForgetOnReject && !c.credential.forget(profileID, password) {
			log.Debug("Rejected password no longer cached")
		}
		return nil, verdict.Err()
	}
}

// Logout forgets the cached password.
func (c *Coordinator) Logout() {
	c.credential.Clear()
}

// ensurePassword returns the cached password, prompting once when there is
// none. Callers arriving while a prompt is open queue behind it.
func (c *Coordinator) ensurePassword(ctx context.Context, profile models.Profile, log *events.Logger) (string, string, error) {
	if id, pw, ok := c.credential.Password(); ok && id == profile.ID {
		return id, pw, nil
	}

	if err := c.gate.acquire(ctx); err != nil {
		return "", "", err
	}
	defer c.gate.release()

	// Whoever held the gate before may have filled the cache, or switched.
	profile, ok := c.registry.Active()
	if !ok {
		return "", "", models.ErrNoActiveProfile
	}
	if id, pw, ok := c.credential.Password(); ok && id == profile.ID {
		return id, pw, nil
	}

	log.WithFields(map[string]interface{}{
		"profile_id": profile.ID,
		"queued":     c.gate.queued(),
	}).Debug("Prompting for password")

	password, err := c.prompter.PromptPassword(ctx, profile)
	switch {
	case errors.Is(err, models.ErrUserCancelled):
		log.Info("Password prompt cancelled")
		return "", "", models.ErrUserCancelled
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		return "", "", fmt.Errorf("password prompt: %w", err)
	case password == "":
		log.Info("Password prompt submitted empty")
		return "", "", models.ErrUserCancelled
	}

	if err := c.credential.setFor(profile.ID, password); err != nil {
		log.WithError(err).Warn("Discarding password entered for previous profile")
		return "", "", err
	}
	return profile.ID, password, nil
}

type callResult struct {
	env *models.Envelope
	err error
}

// call issues the remote request detached from ctx cancellation.
func (c *Coordinator) call(ctx context.Context, req models.CryptRequest, log *events.Logger) (*models.Envelope, error) {
	done := make(chan callResult, 1)
	go func() {
		env, err := c.service.Crypt(context.WithoutCancel(ctx), req)
		done <- callResult{env: env, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.env, nil
		}
		var verr *models.ValidationError
		var terr *models.TransportError
		if errors.As(r.err, &verr) || errors.As(r.err, &terr) {
			return nil, r.err
		}
		log.WithError(r.err).Warn("Crypto service unreachable")
		return nil, &models.TransportError{Op: string(req.Kind), Err: r.err}
	case <-ctx.Done():
		log.Debug("Caller gave up; remote result will be discarded")
		return nil, ctx.Err()
	}
}
