package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

// fakeAuthService implements auth.AuthService. Callbacks are emitted while
// the service lock is held, like a real client library would.
type fakeAuthService struct {
	mu        sync.Mutex
	listeners map[int]auth.SessionChangeFunc
	nextID    int
	current   *auth.Session
	accounts  map[string]fakeAccount
	calls     []string

	probeStarted chan struct{}
	probeRelease chan struct{}
	probeErr     error

	signUpNoSession bool
	signOutErr      error
	resetErr        error
	lastRedirectTo  string
}

type fakeAccount struct {
	password string
	user     *auth.AuthenticatedUser
}

func newFakeAuthService() *fakeAuthService {
	return &fakeAuthService{
		listeners: map[int]auth.SessionChangeFunc{},
		accounts:  map[string]fakeAccount{},
	}
}

func (f *fakeAuthService) addAccount(email, password string, user *auth.AuthenticatedUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = fakeAccount{password: password, user: user}
}

func (f *fakeAuthService) setCurrent(session *auth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = session
}

// holdProbe makes the next GetCurrentSession block until the returned
// release func is called. started is closed once the probe captured its
// answer.
func (f *fakeAuthService) holdProbe() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := make(chan struct{})
	r := make(chan struct{})
	f.probeStarted = s
	f.probeRelease = r
	var once sync.Once
	return s, func() { once.Do(func() { close(r) }) }
}

// valueAuthService is a non-comparable AuthService value.
type valueAuthService struct {
	*fakeAuthService
	tags map[string]string
}

func (f *fakeAuthService) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeAuthService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAuthService) emitLocked(event auth.SessionChangeEvent, session *auth.Session) {
	for _, fn := range f.listeners {
		fn(event, session)
	}
}

// Emit fires a notification as if the service changed state on its own.
func (f *fakeAuthService) Emit(event auth.SessionChangeEvent, session *auth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = session
	f.emitLocked(event, session)
}

func (f *fakeAuthService) SignIn(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SignIn")

	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return nil, errors.New("Invalid login credentials")
	}

	session := &auth.Session{
		AccessToken: "token-" + acc.user.ID,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        acc.user,
	}
	f.current = session
	f.emitLocked(auth.SessionEventSignedIn, session)
	return &auth.AuthResult{User: acc.user, Session: session}, nil
}

func (f *fakeAuthService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SignUp")

	if _, exists := f.accounts[email]; exists {
		return nil, errors.New("User already registered")
	}

	user := &auth.AuthenticatedUser{ID: "user-" + email, Email: email, Metadata: metadata}
	f.accounts[email] = fakeAccount{password: password, user: user}

	if f.signUpNoSession {
		return &auth.AuthResult{User: user}, nil
	}

	session := &auth.Session{AccessToken: "token-" + user.ID, ExpiresAt: time.Now().Add(time.Hour), User: user}
	f.current = session
	f.emitLocked(auth.SessionEventSignedIn, session)
	return &auth.AuthResult{User: user, Session: session}, nil
}

func (f *fakeAuthService) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SignOut")

	if f.signOutErr != nil {
		return f.signOutErr
	}
	if f.current == nil {
		return nil
	}
	f.current = nil
	f.emitLocked(auth.SessionEventSignedOut, nil)
	return nil
}

func (f *fakeAuthService) UpdateUser(ctx context.Context, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateUser")
	if f.current == nil {
		return errors.New("Auth session missing")
	}
	return nil
}

func (f *fakeAuthService) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ResetPasswordForEmail")
	f.lastRedirectTo = redirectTo
	return f.resetErr
}

func (f *fakeAuthService) LastRedirectTo() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRedirectTo
}

func (f *fakeAuthService) OnSessionChange(fn auth.SessionChangeFunc) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("OnSessionChange")

	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeAuthService) GetCurrentSession(ctx context.Context) (*auth.Session, error) {
	f.mu.Lock()
	f.record("GetCurrentSession")
	answer := f.current
	started, release, err := f.probeStarted, f.probeRelease, f.probeErr
	f.probeStarted, f.probeRelease = nil, nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return answer, err
}

// fakeProfileStore implements auth.ProfileStore. missing makes the first
// reads of a user return not found, like a row still being provisioned.
type fakeProfileStore struct {
	mu        sync.Mutex
	rows      map[string]*auth.Profile
	missing   map[string]int
	reads     map[string]int
	getErr    error
	updateErr error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		rows:    map[string]*auth.Profile{},
		missing: map[string]int{},
		reads:   map[string]int{},
	}
}

func (s *fakeProfileStore) put(p *auth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.UserID] = p.Clone()
}

func (s *fakeProfileStore) missFor(userID string, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[userID] = reads
}

func (s *fakeProfileStore) failReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

func (s *fakeProfileStore) Reads(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[userID]
}

func (s *fakeProfileStore) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[userID]++

	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.missing[userID] > 0 {
		s.missing[userID]--
		return nil, auth.ErrProfileNotFound
	}
	row, ok := s.rows[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return row.Clone(), nil
}

func (s *fakeProfileStore) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return nil, s.updateErr
	}
	row, ok := s.rows[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	merged := row.Merge(update)
	s.rows[userID] = merged
	return merged.Clone(), nil
}

// auditRecorder implements auth.AuditSink.
type auditRecorder struct {
	mu     sync.Mutex
	events []auth.SecurityEvent
	err    error
}

func (r *auditRecorder) LogEvent(ctx context.Context, event auth.SecurityEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.err != nil {
		return "", r.err
	}
	return event.ID.String(), nil
}

func (r *auditRecorder) Events() []auth.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.SecurityEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *auditRecorder) Actions() []auth.AuditAction {
	events := r.Events()
	out := make([]auth.AuditAction, 0, len(events))
	for _, e := range events {
		out = append(out, e.ActionType)
	}
	return out
}

// MockFeatureGate implements gate.FeatureGate
type MockFeatureGate struct {
	mock.Mock
}

func (m *MockFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// MockProfileNotifier implements auth.ProfileNotifier
type MockProfileNotifier struct {
	mock.Mock
}

func (m *MockProfileNotifier) Subscribe(ctx context.Context, userID string) (<-chan string, func(), error) {
	args := m.Called(ctx, userID)
	var ch <-chan string
	if v := args.Get(0); v != nil {
		ch = v.(chan string)
	}
	cancel := func() {}
	if v := args.Get(1); v != nil {
		cancel = v.(func())
	}
	return ch, cancel, args.Error(2)
}

// stubContext implements the router.Context surface used by the guard
// middleware. Any other method panics through the nil embedded interface.
type stubContext struct {
	router.Context
	ctx          context.Context
	locals       map[any]any
	headers      map[string]string
	status       int
	body         string
	redirectTo   string
	redirectCode int
}

func newStubContext() *stubContext {
	return &stubContext{
		ctx:     context.Background(),
		locals:  map[any]any{},
		headers: map[string]string{},
	}
}

func (c *stubContext) Context() context.Context {
	return c.ctx
}

func (c *stubContext) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *stubContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return value[0]
	}
	return c.locals[key]
}

func (c *stubContext) SetHeader(key, val string) router.Context {
	c.headers[key] = val
	return c
}

func (c *stubContext) Status(code int) router.Context {
	c.status = code
	return c
}

func (c *stubContext) SendString(s string) error {
	c.body = s
	return nil
}

func (c *stubContext) Redirect(location string, status ...int) error {
	c.redirectTo = location
	if len(status) > 0 {
		c.redirectCode = status[0]
	}
	return nil
}

// snapshotSource implements auth.SnapshotSource
type snapshotSource struct {
	snap auth.Snapshot
}

func (s snapshotSource) Snapshot() auth.Snapshot {
	return s.snap
}

func strPtr(s string) *string { return &s }
