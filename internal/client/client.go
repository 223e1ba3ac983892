package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/crypto"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/forms"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/prompt"
	"github.com/TheMichaelB/roclient/internal/services/auth"
	"github.com/TheMichaelB/roclient/internal/services/crypt"
	"github.com/TheMichaelB/roclient/internal/services/profiles"
	"github.com/TheMichaelB/roclient/internal/session"
	"github.com/TheMichaelB/roclient/internal/state"
	"github.com/TheMichaelB/roclient/internal/transport"
)

// Client provides the high-level API for roclient operations.
//
// New builds the parts that need no server. Start fetches the session,
// builds the rest and loads the profiles; Profiles, Forms and Coordinator
// are nil before it.
type Client struct {
	Auth       *auth.Service
	Registry   *session.Registry
	Credential *session.Credential
	Cache      *CacheManager

	Session     *models.Session
	Profiles    *profiles.Service
	Forms       *forms.Submitter
	Coordinator *session.Coordinator

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
	store     state.Store
	prompter  session.Prompter
	crypto    session.CryptoService

	stopWatch context.CancelFunc
	watchDone chan struct{}
	closeOnce sync.Once
}

// Option overrides a collaborator, mostly for tests.
type Option func(*Client)

// WithTransport replaces the network transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithStore replaces the profile cache.
func WithStore(s state.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithPrompter replaces the terminal password prompt.
func WithPrompter(p session.Prompter) Option {
	return func(c *Client) { c.prompter = p }
}

// WithCryptoService replaces the encrypt/decrypt backend.
func WithCryptoService(s session.CryptoService) Option {
	return func(c *Client) { c.crypto = s }
}

// New creates a client. It makes no network calls.
func New(cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		c.transport = transport.NewTransport(&cfg.API, logger,
			transport.WithInsecureTLS(cfg.Dev.InsecureSkipVerify))
	}

	if c.store == nil {
		store, err := state.Open(&cfg.State, logger)
		if err != nil {
			return nil, fmt.Errorf("open profile cache: %w", err)
		}
		c.store = store
	}
	c.Cache = &CacheManager{store: c.store, server: cfg.API.BaseURL, logger: logger}

	c.Auth = auth.NewService(c.transport, cfg.SessionFile(), logger)
	if path := cfg.Auth.CredentialsFile; path != "" {
		creds, err := auth.LoadCredentials(path)
		if err != nil {
			return nil, err
		}
		c.Auth.SetCredentials(creds)
	}
	if _, err := c.Auth.Restore(); err != nil {
		logger.Debug("No saved login session")
	}

	c.Registry = session.NewRegistry(logger)
	c.Credential = session.NewCredential(c.Registry)

	return c, nil
}

// Start renews the login when a saved session or credentials allow it,
// fetches the session token, wires the profile and crypto services
// and loads the profiles. A partial profile load is logged and does not
// fail Start; an offline load from the cache is reported as
// profiles.ErrOffline after the client is fully usable.
func (c *Client) Start(ctx context.Context) error {
	if c.Coordinator != nil {
		return nil
	}

	err := c.Auth.EnsureAuthenticated(ctx)
	if err != nil && !errors.Is(err, models.ErrNotAuthenticated) {
		c.logger.WithError(err).Warn("Could not confirm login")
	}

	token := c.config.Session.CSRFToken
	if token == "" {
		sess, err := profiles.FetchSession(ctx, c.transport)
		if err != nil {
			c.logger.WithError(err).Warn("Could not fetch session token")
		} else {
			token = sess.CSRFToken()
		}
	}
	c.Session = models.NewSession(token)

	c.Forms = forms.NewSubmitter(c.transport, c.Session, c.logger)
	c.Profiles = profiles.NewService(c.transport, c.Registry, c.Credential, c.Forms,
		c.store, c.config.API.BaseURL, c.logger)

	if c.crypto == nil {
		if c.config.Dev.LocalCrypto {
			c.logger.Warn("Using local crypto backend")
			c.crypto = crypt.NewLocalService(crypto.NewProvider(crypto.DefaultParams), c.logger)
		} else {
			c.crypto = crypt.NewRemoteService(c.transport, c.logger)
		}
	}
	if c.prompter == nil {
		c.prompter = prompt.NewTerminal(&c.config.Prompt, c.logger)
	}

	c.Coordinator = session.NewCoordinator(c.Registry, c.Credential, c.crypto, c.prompter, c.Session,
		&session.CoordinatorConfig{ForgetOnReject: c.config.Session.ForgetOnReject}, c.logger)

	loadErr := c.Profiles.Load(ctx)
	switch {
	case loadErr == nil:
	case errors.Is(loadErr, profiles.ErrOffline):
		return loadErr
	case c.Registry.Len() > 0:
		c.logger.WithError(loadErr).Warn("Profiles partially loaded")
	default:
		return fmt.Errorf("load profiles: %w", loadErr)
	}

	if c.config.Session.WatchProfiles {
		c.watch()
	}
	return nil
}

func (c *Client) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})

	w := profiles.NewWatcher(c.Profiles, c.transport, c.logger)
	go func() {
		defer close(c.watchDone)
		_ = w.Run(ctx)
	}()
}

// Logout forgets the cached password and ends the server login.
func (c *Client) Logout(ctx context.Context) error {
	if c.Coordinator != nil {
		c.Coordinator.Logout()
	} else {
		c.Credential.Clear()
	}
	return c.Auth.Logout(ctx)
}

// Close stops the watcher and releases the transport and the cache.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.stopWatch != nil {
			c.stopWatch()
			<-c.watchDone
		}
		if err := c.transport.Close(); err != nil {
			errs = append(errs, err)
		}
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
