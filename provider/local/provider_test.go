package local_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/provider/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordedEvent struct {
	event   auth.SessionChangeEvent
	session *auth.Session
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) record(event auth.SessionChangeEvent, session *auth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, session: session})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newProvider(t *testing.T, opts ...local.Option) *local.Provider {
	t.Helper()
	p := local.New(append([]local.Option{local.WithHashCost(bcrypt.MinCost)}, opts...)...)
	t.Cleanup(p.Close)
	return p
}

func TestProvider_SignUpSignInSignOut(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	rec := &eventRecorder{}
	unsubscribe := p.OnSessionChange(rec.record)
	defer unsubscribe()

	res, err := p.SignUp(ctx, "Awa@Example.com", "secret123", map[string]any{"role": "contributeur"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "awa@example.com", res.User.Email)
	assert.Equal(t, local.UserID("awa@example.com"), res.User.ID)
	assert.Equal(t, "contributeur", res.User.MetadataRole())

	claims, err := p.VerifyAccessToken(res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)

	require.NoError(t, p.SignOut(ctx))
	session, err := p.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	res, err = p.SignIn(ctx, "awa@example.com", "secret123")
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	session, err = p.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, res.User.ID, session.User.ID)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, auth.SessionEventSignedIn, events[0].event)
	assert.Equal(t, auth.SessionEventSignedOut, events[1].event)
	assert.Nil(t, events[1].session)
	assert.Equal(t, auth.SessionEventSignedIn, events[2].event)
}

func TestProvider_StableUserID(t *testing.T) {
	assert.Equal(t, local.UserID("a@example.com"), local.UserID(" A@example.com "))
	assert.NotEqual(t, local.UserID("a@example.com"), local.UserID("b@example.com"))
}

func TestProvider_CredentialErrorsClassify(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, local.WithMaxFailedAttempts(2))

	_, err := p.SignUp(ctx, "user@example.com", "123", nil)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeWeakPassword, auth.ClassifyCredentialError(err).TextCode)

	_, err = p.SignUp(ctx, "user@example.com", "secret123", nil)
	require.NoError(t, err)

	_, err = p.SignUp(ctx, "user@example.com", "secret123", nil)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeUserAlreadyExists, auth.ClassifyCredentialError(err).TextCode)

	_, err = p.SignIn(ctx, "user@example.com", "wrong-password")
	require.Error(t, err)
	classified := auth.ClassifyCredentialError(err)
	assert.Equal(t, auth.TextCodeInvalidCredentials, classified.TextCode)
	assert.Equal(t, "Email ou mot de passe incorrect", classified.Message)

	_, err = p.SignIn(ctx, "user@example.com", "wrong-password")
	require.Error(t, err)

	_, err = p.SignIn(ctx, "user@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeRateLimited, auth.ClassifyCredentialError(err).TextCode)
}

func TestProvider_EmailConfirmation(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, local.WithEmailConfirmation(true))

	res, err := p.SignUp(ctx, "new@example.com", "secret123", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Session)

	_, err = p.SignIn(ctx, "new@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeEmailNotConfirmed, auth.ClassifyCredentialError(err).TextCode)

	require.True(t, p.ConfirmEmail("new@example.com"))
	res, err = p.SignIn(ctx, "new@example.com", "secret123")
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestProvider_DelayedProvisioning(t *testing.T) {
	ctx := context.Background()
	profiles := local.NewMemoryProfiles()
	p := newProvider(t, local.WithProvisioning(profiles, 50*time.Millisecond))

	res, err := p.SignUp(ctx, "late@example.com", "secret123", map[string]any{
		"role":       "editor",
		"first_name": "Late",
	})
	require.NoError(t, err)

	_, err = profiles.GetProfile(ctx, res.User.ID)
	assert.True(t, auth.IsProfileNotFound(err))

	require.Eventually(t, func() bool {
		_, err := profiles.GetProfile(ctx, res.User.ID)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	profile, err := profiles.GetProfile(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.Role("editor"), profile.Role)
	assert.Equal(t, "Late", profile.FirstName)
}

func TestProvider_ResetPasswordAndUpdateUser(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	require.NoError(t, p.ResetPasswordForEmail(ctx, "ghost@example.com", "https://portal/reset"))
	assert.Empty(t, p.Outbox())

	_, err := p.SignUp(ctx, "user@example.com", "secret123", nil)
	require.NoError(t, err)

	require.NoError(t, p.ResetPasswordForEmail(ctx, "user@example.com", "https://portal/reset"))
	outbox := p.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, "https://portal/reset", outbox[0].RedirectTo)

	require.NoError(t, p.UpdateUser(ctx, "another-secret"))
	require.NoError(t, p.SignOut(ctx))

	assert.Error(t, p.UpdateUser(ctx, "another-secret"))

	_, err = p.SignIn(ctx, "user@example.com", "secret123")
	require.Error(t, err)
	_, err = p.SignIn(ctx, "user@example.com", "another-secret")
	require.NoError(t, err)
}

func TestProvider_ProbeReflectsCallTime(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, local.WithProbeDelay(50*time.Millisecond))

	_, err := p.SignUp(ctx, "user@example.com", "secret123", nil)
	require.NoError(t, err)

	done := make(chan *auth.Session, 1)
	go func() {
		s, _ := p.GetCurrentSession(ctx)
		done <- s
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.SignOut(ctx))

	stale := <-done
	assert.NotNil(t, stale, "probe answers with the session seen when it was issued")
}
