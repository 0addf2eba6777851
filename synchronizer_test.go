package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSynchronizer(store auth.ProfileStore, opts ...auth.SynchronizerOption) *auth.ProfileSynchronizer {
	base := []auth.SynchronizerOption{auth.WithSynchronizerLogger(auth.NopLogger())}
	return auth.NewProfileSynchronizer(store, append(base, opts...)...)
}

func TestWaitForProfile_FoundOnFourthPoll(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleEditor})
	store.missFor("u1", 3)

	sync := newTestSynchronizer(store)

	start := time.Now()
	role := sync.WaitForProfile(context.Background(), "u1", 10, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, auth.RoleEditor, role)
	assert.Equal(t, 4, store.Reads("u1"))
	assert.GreaterOrEqual(t, elapsed, 280*time.Millisecond)
	assert.Less(t, elapsed, 700*time.Millisecond)
}

func TestWaitForProfile_FirstPollIsImmediate(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleContributor})

	sync := newTestSynchronizer(store)

	start := time.Now()
	role := sync.WaitForProfile(context.Background(), "u1", 3, time.Second)

	assert.Equal(t, auth.RoleContributor, role)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 1, store.Reads("u1"))
}

func TestWaitForProfile_BoundedByRetriesTimesDelay(t *testing.T) {
	store := newFakeProfileStore()
	sync := newTestSynchronizer(store)

	start := time.Now()
	role := sync.WaitForProfile(context.Background(), "missing", 5, 20*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, auth.Role(""), role)
	assert.Less(t, elapsed, 100*time.Millisecond+80*time.Millisecond)
	assert.LessOrEqual(t, store.Reads("missing"), 5)
	assert.GreaterOrEqual(t, store.Reads("missing"), 4)
}

func TestWaitForProfile_ZeroRetries(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleEditor})

	sync := newTestSynchronizer(store)

	assert.Equal(t, auth.Role(""), sync.WaitForProfile(context.Background(), "u1", 0, time.Millisecond))
	assert.Equal(t, 0, store.Reads("u1"))
}

func TestWaitForProfile_UnknownRoleIsEmpty(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.Role("focal_point")})

	sync := newTestSynchronizer(store)

	role := sync.WaitForProfile(context.Background(), "u1", 2, 5*time.Millisecond)
	assert.Equal(t, auth.Role(""), role)
}

func TestWaitForProfile_PushWakesPoller(t *testing.T) {
	store := newFakeProfileStore()
	store.missFor("u1", 1)
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleSuperAdmin})

	pushed := make(chan string, 1)
	notifier := &MockProfileNotifier{}
	notifier.On("Subscribe", mock.Anything, "u1").Return(pushed, func() {}, nil)

	sync := newTestSynchronizer(store, auth.WithProfileNotifier(notifier))

	go func() {
		time.Sleep(30 * time.Millisecond)
		pushed <- string(auth.RoleSuperAdmin)
	}()

	start := time.Now()
	role := sync.WaitForProfile(context.Background(), "u1", 3, 2*time.Second)

	assert.Equal(t, auth.RoleSuperAdmin, role)
	assert.Less(t, time.Since(start), time.Second)
	notifier.AssertExpectations(t)
}

func TestWaitForProfile_NotifierFailureFallsBackToPolling(t *testing.T) {
	store := newFakeProfileStore()
	store.missFor("u1", 1)
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleReader})

	notifier := &MockProfileNotifier{}
	notifier.On("Subscribe", mock.Anything, "u1").Return(nil, nil, errors.New("redis down"))

	sync := newTestSynchronizer(store, auth.WithProfileNotifier(notifier))

	role := sync.WaitForProfile(context.Background(), "u1", 3, 10*time.Millisecond)
	assert.Equal(t, auth.RoleReader, role)
}

func TestWaitForProfile_CanceledContext(t *testing.T) {
	store := newFakeProfileStore()
	sync := newTestSynchronizer(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	role := sync.WaitForProfile(ctx, "u1", 10, time.Second)
	assert.Equal(t, auth.Role(""), role)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestFetchProfile(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.Role("editor"), FirstName: "Awa"})

	sync := newTestSynchronizer(store)

	profile := sync.FetchProfile(context.Background(), "u1")
	require.NotNil(t, profile)
	assert.Equal(t, auth.RoleEditor, profile.Role)
	assert.Equal(t, "Awa", profile.FirstName)

	assert.Nil(t, sync.FetchProfile(context.Background(), "missing"))
	assert.Nil(t, sync.FetchProfile(context.Background(), ""))
}

func TestFetchProfile_StoreErrorReturnsNil(t *testing.T) {
	failing := &failingStore{err: errors.New("connection reset")}
	sync := newTestSynchronizer(failing)

	assert.Nil(t, sync.FetchProfile(context.Background(), "u1"))
}

func TestCachedRole(t *testing.T) {
	store := newFakeProfileStore()
	store.put(&auth.Profile{UserID: "u1", Role: auth.RoleCountryAdmin})

	sync := newTestSynchronizer(store, auth.WithRoleCacheSize(2))

	_, ok := sync.CachedRole("u1")
	assert.False(t, ok)

	sync.FetchProfile(context.Background(), "u1")

	role, ok := sync.CachedRole("u1")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleCountryAdmin, role)

	sync.RememberRole("u2", auth.RoleEditor)
	sync.RememberRole("u3", auth.Role("bogus"))

	role, ok = sync.CachedRole("u2")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleEditor, role)

	_, ok = sync.CachedRole("u3")
	assert.False(t, ok)
}

type failingStore struct {
	err error
}

func (f *failingStore) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	return nil, f.err
}

func (f *failingStore) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.Profile, error) {
	return nil, f.err
}

func TestFetchProfile_FetchTimeoutBoundsSlowStore(t *testing.T) {
	sync := newTestSynchronizer(stallingStore{}, auth.WithFetchTimeout(30*time.Millisecond))

	start := time.Now()
	assert.Nil(t, sync.FetchProfile(context.Background(), "u1"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// stallingStore answers only once the query context gives up.
type stallingStore struct{}

func (stallingStore) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingStore) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
