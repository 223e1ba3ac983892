package profiles

import (
	"context"
	"time"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/transport"
)

// Watcher follows server push notifications and keeps the registry in step
// with profile changes made elsewhere.
type Watcher struct {
	service   *Service
	transport transport.Transport
	path      string
	logger    *events.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// NewWatcher creates a watcher on the notifications endpoint.
func NewWatcher(service *Service, t transport.Transport, logger *events.Logger) *Watcher {
	return &Watcher{
		service:   service,
		transport: t,
		path:      NotificationsPath,
		logger:    logger.WithField("component", "profile_watcher"),
		minDelay:  time.Second,
		maxDelay:  time.Minute,
	}
}

// Run consumes notifications until ctx ends, reconnecting with backoff
// whenever the stream drops.
func (w *Watcher) Run(ctx context.Context) error {
	delay := w.minDelay

	for {
		ch, err := w.transport.Watch(ctx, w.path)
		if err != nil {
			w.logger.WithError(err).WithField("retry_in", delay).Warn("Notification stream unavailable")
		} else {
			delay = w.minDelay
			w.consume(ctx, ch)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

func (w *Watcher) consume(ctx context.Context, ch <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				w.logger.Debug("Notification stream closed")
				return
			}
			w.handle(ctx, n)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, n models.Notification) {
	log := w.logger.WithFields(map[string]interface{}{
		"type":       n.Type,
		"profile_id": n.ProfileID,
	})

	switch n.Type {
	case models.NotifyProfilesChanged:
		if err := w.service.Refresh(ctx); err != nil {
			log.WithError(err).Warn("Profile refresh failed")
		}

	case models.NotifyProfileSwitched:
		registry := w.service.registry
		if n.ProfileID == registry.ActiveID() {
			return
		}
		if _, err := registry.Get(n.ProfileID); err != nil {
			// Unknown profile: the listing is stale.
			if err := w.service.Refresh(ctx); err != nil {
				log.WithError(err).Warn("Profile refresh failed")
			}
			return
		}
		if err := registry.Select(n.ProfileID); err != nil {
			log.WithError(err).Warn("Could not follow profile switch")
			return
		}
		w.service.saveSnapshot()
		log.Info("Followed server-side profile switch")

	default:
		log.Debug("Ignoring notification")
	}
}
