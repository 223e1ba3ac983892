package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/session"
)

const waitFor = 2 * time.Second

type mockCrypto struct {
	mock.Mock
}

func (m *mockCrypto) Crypt(ctx context.Context, req models.CryptRequest) (*models.Envelope, error) {
	args := m.Called(ctx, req)
	env, _ := args.Get(0).(*models.Envelope)
	return env, args.Error(1)
}

type answer struct {
	password string
	err      error
}

// scriptedPrompter blocks each prompt until the test answers it.
type scriptedPrompter struct {
	mu      sync.Mutex
	asked   []models.Profile
	started chan models.Profile
	answers chan answer
}

func newScriptedPrompter() *scriptedPrompter {
	return &scriptedPrompter{
		started: make(chan models.Profile, 16),
		answers: make(chan answer, 16),
	}
}

func (p *scriptedPrompter) PromptPassword(ctx context.Context, profile models.Profile) (string, error) {
	p.mu.Lock()
	p.asked = append(p.asked, profile)
	p.mu.Unlock()
	p.started <- profile

	select {
	case a := <-p.answers:
		return a.password, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *scriptedPrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.asked)
}

func (p *scriptedPrompter) waitStarted(t *testing.T) models.Profile {
	t.Helper()
	select {
	case prof := <-p.started:
		return prof
	case <-time.After(waitFor):
		t.Fatal("prompt was never shown")
		return models.Profile{}
	}
}

type fixture struct {
	reg      *session.Registry
	cred     *session.Credential
	svc      *mockCrypto
	prompter *scriptedPrompter
	coord    *session.Coordinator
}

func newFixture(t *testing.T, cfg *session.CoordinatorConfig) *fixture {
	t.Helper()
	f := &fixture{svc: &mockCrypto{}, prompter: newScriptedPrompter()}
	f.reg, f.cred = newRegistry(t)
	p1 := profile("P1", "Alice")
	f.reg.LoadAll(&p1, []models.Profile{p1, profile("P2", "Bob")})
	f.coord = session.NewCoordinator(f.reg, f.cred, f.svc, f.prompter,
		models.NewSession("csrf-token"), cfg, events.Discard())
	return f
}

func cryptReq(kind models.OperationKind, payload, profileID, password string) models.CryptRequest {
	return models.CryptRequest{
		Kind:      kind,
		Payload:   payload,
		ProfileID: profileID,
		Password:  password,
		CSRFToken: "csrf-token",
	}
}

func awaitOutcome(t *testing.T, ch <-chan session.Outcome) session.Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(waitFor):
		t.Fatal("request never settled")
		return session.Outcome{}
	}
}

func TestCoordinatorNoActiveProfile(t *testing.T) {
	reg, cred := newRegistry(t)
	svc := &mockCrypto{}
	prompter := newScriptedPrompter()
	coord := session.NewCoordinator(reg, cred, svc, prompter, models.NewSession(""), nil, events.Discard())

	for _, kind := range []models.OperationKind{models.OpEncrypt, models.OpDecrypt} {
		_, err := coord.Request(context.Background(), kind, "data")
		assert.ErrorIs(t, err, models.ErrNoActiveProfile)
	}

	assert.Zero(t, prompter.count())
	svc.AssertNotCalled(t, "Crypt", mock.Anything, mock.Anything)
}

func TestCoordinatorPromptsOnceAfterSwitch(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.reg.Select("P2"))
	f.svc.On("Crypt", mock.Anything, cryptReq(models.OpEncrypt, "payload", "P2", "pw1")).
		Return(&models.Envelope{Data: "ciphertext"}, nil).Once()

	done := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "payload")
	asked := f.prompter.waitStarted(t)
	assert.Equal(t, "P2", asked.ID)
	f.prompter.answers <- answer{password: "pw1"}

	out := awaitOutcome(t, done)
	require.NoError(t, out.Err)
	assert.Equal(t, "ciphertext", out.Result.Data)
	assert.Equal(t, "P2", out.Result.ProfileID)
	assert.Equal(t, 1, f.prompter.count())
	f.svc.AssertExpectations(t)
	assert.True(t, f.cred.Has())
}

func TestCoordinatorCachedPasswordSkipsPrompt(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cred.Set("cached"))
	f.svc.On("Crypt", mock.Anything, cryptReq(models.OpDecrypt, "ct", "P1", "cached")).
		Return(&models.Envelope{Data: "plain"}, nil).Twice()

	for i := 0; i < 2; i++ {
		res, err := f.coord.Decrypt(context.Background(), "ct")
		require.NoError(t, err)
		assert.Equal(t, "plain", res.Data)
	}

	assert.Zero(t, f.prompter.count())
	f.svc.AssertExpectations(t)
}

func TestCoordinatorConcurrentRequestsShareOnePrompt(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.On("Crypt", mock.Anything, cryptReq(models.OpEncrypt, "a", "P1", "pw")).
		Return(&models.Envelope{Data: "A"}, nil).Once()
	f.svc.On("Crypt", mock.Anything, cryptReq(models.OpDecrypt, "b", "P1", "pw")).
		Return(&models.Envelope{Data: "B"}, nil).Once()

	first := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "a")
	f.prompter.waitStarted(t)
	second := f.coord.RequestAsync(context.Background(), models.OpDecrypt, "b")
	require.Eventually(t, func() bool { return f.coord.QueuedPrompts() == 1 }, waitFor, time.Millisecond)

	f.svc.AssertNotCalled(t, "Crypt", mock.Anything, mock.Anything)
	f.prompter.answers <- answer{password: "pw"}

	out1 := awaitOutcome(t, first)
	out2 := awaitOutcome(t, second)
	require.NoError(t, out1.Err)
	require.NoError(t, out2.Err)
	assert.Equal(t, "A", out1.Result.Data)
	assert.Equal(t, "B", out2.Result.Data)
	assert.Equal(t, 1, f.prompter.count())
	f.svc.AssertExpectations(t)
}

func TestCoordinatorCancel(t *testing.T) {
	t.Run("cancelled prompt", func(t *testing.T) {
		f := newFixture(t, nil)

		done := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "x")
		f.prompter.waitStarted(t)
		f.prompter.answers <- answer{err: models.ErrUserCancelled}

		out := awaitOutcome(t, done)
		assert.ErrorIs(t, out.Err, models.ErrUserCancelled)
		assert.False(t, f.cred.Has())
		f.svc.AssertNotCalled(t, "Crypt", mock.Anything, mock.Anything)
	})

	t.Run("empty submission counts as cancel", func(t *testing.T) {
		f := newFixture(t, nil)

		done := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "x")
		f.prompter.waitStarted(t)
		f.prompter.answers <- answer{password: ""}

		out := awaitOutcome(t, done)
		assert.ErrorIs(t, out.Err, models.ErrUserCancelled)
		assert.False(t, f.cred.Has())
	})

	t.Run("queued request gets its own prompt", func(t *testing.T) {
		f := newFixture(t, nil)
		f.svc.On("Crypt", mock.Anything, cryptReq(models.OpEncrypt, "b", "P1", "pw")).
			Return(&models.Envelope{Data: "B"}, nil).Once()

		first := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "a")
		f.prompter.waitStarted(t)
		second := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "b")
		require.Eventually(t, func() bool { return f.coord.QueuedPrompts() == 1 }, waitFor, time.Millisecond)

		f.prompter.answers <- answer{err: models.ErrUserCancelled}
		assert.ErrorIs(t, awaitOutcome(t, first).Err, models.ErrUserCancelled)

		f.prompter.waitStarted(t)
		f.prompter.answers <- answer{password: "pw"}
		out := awaitOutcome(t, second)
		require.NoError(t, out.Err)
		assert.Equal(t, "B", out.Result.Data)
		assert.Equal(t, 2, f.prompter.count())
	})

	t.Run("context ends while queued", func(t *testing.T) {
		f := newFixture(t, nil)

		first := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "a")
		f.prompter.waitStarted(t)
		ctx, cancel := context.WithCancel(context.Background())
		second := f.coord.RequestAsync(ctx, models.OpEncrypt, "b")
		require.Eventually(t, func() bool { return f.coord.QueuedPrompts() == 1 }, waitFor, time.Millisecond)

		cancel()
		assert.ErrorIs(t, awaitOutcome(t, second).Err, context.Canceled)
		assert.Zero(t, f.coord.QueuedPrompts())

		f.prompter.answers <- answer{err: models.ErrUserCancelled}
		assert.ErrorIs(t, awaitOutcome(t, first).Err, models.ErrUserCancelled)
		assert.Equal(t, 1, f.prompter.count())
	})
}

func TestCoordinatorProfileSwitchDuringPrompt(t *testing.T) {
	f := newFixture(t, nil)

	done := f.coord.RequestAsync(context.Background(), models.OpEncrypt, "x")
	asked := f.prompter.waitStarted(t)
	require.Equal(t, "P1", asked.ID)
	require.NoError(t, f.reg.Select("P2"))
	f.prompter.answers <- answer{password: "pw-for-p1"}

	out := awaitOutcome(t, done)
	assert.ErrorIs(t, out.Err, models.ErrProfileChanged)
	assert.False(t, f.cred.Has())
	f.svc.AssertNotCalled(t, "Crypt", mock.Anything, mock.Anything)
}

func TestCoordinatorRemoteFailures(t *testing.T) {
	t.Run("validation error keeps password", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.cred.Set("wrong"))
		f.svc.On("Crypt", mock.Anything, mock.Anything).
			Return(&models.Envelope{Errors: []string{"bad password"}}, nil)

		_, err := f.coord.Encrypt(context.Background(), "x")

		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"bad password"}, verr.Messages())
		assert.True(t, f.cred.Has())
		assert.Zero(t, f.prompter.count())
	})

	t.Run("forget on reject", func(t *testing.T) {
		f := newFixture(t, &session.CoordinatorConfig{ForgetOnReject: true})
		require.NoError(t, f.cred.Set("wrong"))
		f.svc.On("Crypt", mock.Anything, mock.Anything).
			Return(&models.Envelope{Errors: []string{"bad password"}}, nil)

		_, err := f.coord.Encrypt(context.Background(), "x")

		assert.Equal(t, models.ErrCodeValidation, models.Code(err))
		assert.False(t, f.cred.Has())
	})

	t.Run("forget on reject spares the next profile", func(t *testing.T) {
		f := newFixture(t, &session.CoordinatorConfig{ForgetOnReject: true})
		require.NoError(t, f.cred.Set("wrong"))
		f.svc.On("Crypt", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				assert.NoError(t, f.reg.Select("P2"))
				assert.NoError(t, f.cred.Set("bob-pw"))
			}).
			Return(&models.Envelope{Errors: []string{"bad password"}}, nil)

		_, err := f.coord.Encrypt(context.Background(), "x")

		assert.Equal(t, models.ErrCodeValidation, models.Code(err))
		id, pw, ok := f.cred.Password()
		require.True(t, ok)
		assert.Equal(t, "P2", id)
		assert.Equal(t, "bob-pw", pw)
	})

	t.Run("transport failure", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.cred.Set("pw"))
		dial := errors.New("connection refused")
		f.svc.On("Crypt", mock.Anything, mock.Anything).Return(nil, dial)

		_, err := f.coord.Encrypt(context.Background(), "x")

		var terr *models.TransportError
		require.ErrorAs(t, err, &terr)
		assert.ErrorIs(t, err, dial)
		assert.Equal(t, []string{models.UnknownErrorMessage}, models.Messages(err))
		assert.True(t, f.cred.Has())
	})

	t.Run("absent envelope", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.cred.Set("pw"))
		f.svc.On("Crypt", mock.Anything, mock.Anything).Return(nil, nil)

		_, err := f.coord.Decrypt(context.Background(), "x")

		assert.Equal(t, models.ErrCodeTransport, models.Code(err))
		assert.Equal(t, []string{models.UnknownErrorMessage}, models.Messages(err))
	})
}

func TestCoordinatorDiscardsLateResult(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cred.Set("pw"))
	release := make(chan struct{})
	entered := make(chan struct{})
	var callCtx context.Context
	f.svc.On("Crypt", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			callCtx = args.Get(0).(context.Context)
			close(entered)
			<-release
		}).
		Return(&models.Envelope{Data: "late"}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := f.coord.RequestAsync(ctx, models.OpEncrypt, "x")
	<-entered
	cancel()

	out := awaitOutcome(t, done)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.NoError(t, callCtx.Err())

	close(release)
	f.svc.AssertNumberOfCalls(t, "Crypt", 1)
}

func TestCoordinatorLogout(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cred.Set("pw"))

	f.coord.Logout()

	assert.False(t, f.cred.Has())
}

func TestCoordinatorRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.coord.Request(context.Background(), models.OperationKind("sign"), "x")

	assert.Error(t, err)
	assert.Zero(t, f.prompter.count())
}
