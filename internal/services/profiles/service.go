// Package profiles talks to the server about the user's profiles and keeps
// the local registry in step with it.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/forms"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/session"
	"github.com/TheMichaelB/roclient/internal/state"
	"github.com/TheMichaelB/roclient/internal/transport"
)

// Server endpoints.
const (
	ProfileModel         = "red.october.user"
	ReadCurrentUserPath  = "/web/dataset/call_kw/" + ProfileModel + "/read_current_user"
	ReadUserProfilesPath = "/web/dataset/call_kw/" + ProfileModel + "/read_user_profiles"
	SwitchPathPrefix     = "/red_october/profile/change/"
	ChangePasswordPath   = "/red_october/profile/password"
	SessionInfoPath      = "/web/session/get_session_info"
	NotificationsPath    = "/red_october/notifications"
)

// ErrOffline means neither profile read reached the server and the
// registry was filled from the local snapshot.
var ErrOffline = errors.New("server unreachable, using cached profiles")

// Service manages profiles on the server.
type Service struct {
	transport  transport.Transport
	registry   *session.Registry
	credential *session.Credential
	submitter  *forms.Submitter
	store      state.Store
	server     string
	logger     *events.Logger
}

// NewService creates a profile service. store may be nil; server keys the
// snapshot in store.
func NewService(
	t transport.Transport,
	registry *session.Registry,
	credential *session.Credential,
	submitter *forms.Submitter,
	store state.Store,
	server string,
	logger *events.Logger,
) *Service {
	return &Service{
		transport:  t,
		registry:   registry,
		credential: credential,
		submitter:  submitter,
		store:      store,
		server:     server,
		logger:     logger.WithField("service", "profiles"),
	}
}

func callKwParams(method string) map[string]interface{} {
	return map[string]interface{}{
		"model":  ProfileModel,
		"method": method,
		"args":   []interface{}{},
		"kwargs": map[string]interface{}{},
	}
}

// ReadCurrentUserProfile returns the profile of the session user, or nil
// when the server reports none.
func (s *Service) ReadCurrentUserProfile(ctx context.Context) (*models.Profile, error) {
	var records []map[string]interface{}
	if err := s.transport.CallRPC(ctx, ReadCurrentUserPath, callKwParams("read_current_user"), &records); err != nil {
		return nil, fmt.Errorf("read current user: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	p, err := models.ProfileFromRecord(records[0])
	if err != nil {
		return nil, fmt.Errorf("read current user: %w", err)
	}
	return &p, nil
}

// ReadUserProfiles returns every profile the user can access. Malformed
// records are skipped.
func (s *Service) ReadUserProfiles(ctx context.Context) ([]models.Profile, error) {
	var records []map[string]interface{}
	if err := s.transport.CallRPC(ctx, ReadUserProfilesPath, callKwParams("read_user_profiles"), &records); err != nil {
		return nil, fmt.Errorf("read user profiles: %w", err)
	}

	out := make([]models.Profile, 0, len(records))
	for _, rec := range records {
		p, err := models.ProfileFromRecord(rec)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping malformed profile record")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fetched struct {
	current    *models.Profile
	accessible []models.Profile
	currentErr error
	listErr    error
}

// fetch runs both reads concurrently; neither waits on the other.
func (s *Service) fetch(ctx context.Context) fetched {
	var f fetched
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.current, f.currentErr = s.ReadCurrentUserProfile(ctx)
	}()
	go func() {
		defer wg.Done()
		f.accessible, f.listErr = s.ReadUserProfiles(ctx)
	}()
	wg.Wait()
	return f
}

// Load fills the registry at startup. The two reads are independent: a
// failure of one still loads what the other returned, and its error is
// returned alongside. When both fail the cached snapshot is loaded instead
// and the error wraps ErrOffline.
func (s *Service) Load(ctx context.Context) error {
	return s.apply(ctx, false)
}

// Refresh re-reads the profiles and replaces the registry contents. When
// the listing read fails the known profiles are kept and only the current
// profile is merged in.
func (s *Service) Refresh(ctx context.Context) error {
	return s.apply(ctx, true)
}

func (s *Service) apply(ctx context.Context, replace bool) error {
	f := s.fetch(ctx)

	if f.currentErr != nil && f.listErr != nil {
		s.logger.WithError(f.listErr).Warn("Profile reads failed")
		if replace && s.registry.Len() > 0 {
			return errors.Join(f.currentErr, f.listErr)
		}
		if err := s.loadSnapshot(); err != nil {
			return errors.Join(f.currentErr, f.listErr, err)
		}
		return errors.Join(ErrOffline, f.currentErr, f.listErr)
	}

	if f.currentErr != nil {
		s.logger.WithError(f.currentErr).Warn("Could not read current profile")
	}
	if f.listErr != nil {
		s.logger.WithError(f.listErr).Warn("Could not read accessible profiles")
	}

	if replace && f.listErr == nil {
		s.registry.Reload(f.current, f.accessible)
	} else {
		s.registry.LoadAll(f.current, f.accessible)
	}
	if f.currentErr == nil && f.listErr == nil {
		s.saveSnapshot()
	}

	s.logger.WithFields(map[string]interface{}{
		"count":  s.registry.Len(),
		"active": s.registry.ActiveID(),
	}).Info("Profiles loaded")

	return errors.Join(f.currentErr, f.listErr)
}

// SwitchActiveProfile asks the server to switch the session profile, then
// selects it locally. Switching to the active profile makes no call.
func (s *Service) SwitchActiveProfile(ctx context.Context, profileID string) error {
	if profileID == s.registry.ActiveID() {
		return nil
	}
	if _, err := s.registry.Get(profileID); err != nil {
		return err
	}

	log := s.logger.WithField("profile_id", profileID)
	log.Debug("Switching profile")

	if err := s.transport.CallRPC(ctx, SwitchPathPrefix+url.PathEscape(profileID), nil, nil); err != nil {
		log.WithError(err).Warn("Server refused profile switch")
		return fmt.Errorf("switch profile %s: %w", profileID, err)
	}

	if err := s.registry.Select(profileID); err != nil {
		return err
	}
	s.saveSnapshot()
	return nil
}

// ChangePassword submits the password change form for a profile. On
// success the cached password is dropped if it belongs to that profile.
func (s *Service) ChangePassword(ctx context.Context, profileID, oldPassword, newPassword string) (forms.Outcome, error) {
	if _, err := s.registry.Get(profileID); err != nil {
		return forms.Outcome{}, err
	}
	if newPassword == "" {
		return forms.Outcome{}, models.ErrEmptyPassword
	}

	form := &forms.Form{
		Action: ChangePasswordPath,
		Fields: url.Values{
			"user_id":          {profileID},
			"password_old":     {oldPassword},
			"password_new":     {newPassword},
			"password_confirm": {newPassword},
		},
	}

	out, err := s.submitter.Submit(ctx, form, &forms.Collector{})
	if err != nil {
		return out, err
	}
	if out.Success && s.registry.ActiveID() == profileID {
		s.credential.Clear()
	}
	return out, nil
}

// FetchSession reads the anti-forgery token from the server. It runs
// before a Service exists, since the submitter needs the session.
func FetchSession(ctx context.Context, t transport.Transport) (*models.Session, error) {
	var info struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := t.CallRPC(ctx, SessionInfoPath, nil, &info); err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}
	return models.NewSession(info.CSRFToken), nil
}

// Cached returns the last saved snapshot.
func (s *Service) Cached() (*models.ProfileSnapshot, error) {
	if s.store == nil {
		return nil, state.ErrStateNotFound
	}
	return s.store.Load(s.server)
}

func (s *Service) loadSnapshot() error {
	snap, err := s.Cached()
	if err != nil {
		return fmt.Errorf("load cached profiles: %w", err)
	}

	var current *models.Profile
	for i := range snap.Profiles {
		if snap.Profiles[i].ID == snap.ActiveID {
			current = &snap.Profiles[i]
			break
		}
	}
	s.registry.LoadAll(current, snap.Profiles)

	s.logger.WithFields(map[string]interface{}{
		"count":    len(snap.Profiles),
		"saved_at": snap.SavedAt,
	}).Warn("Loaded cached profiles")
	return nil
}

func (s *Service) saveSnapshot() {
	if s.store == nil {
		return
	}
	snap := &models.ProfileSnapshot{
		ActiveID: s.registry.ActiveID(),
		Profiles: s.registry.List(),
		SavedAt:  time.Now(),
	}
	if err := s.store.Save(s.server, snap); err != nil {
		s.logger.WithError(err).Warn("Failed to save profile snapshot")
	}
}
