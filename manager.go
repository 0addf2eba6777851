package auth

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
)

// bound tracks which AuthService instances already have a manager. The
// service is a process wide singleton and a second manager would compete
// with the first for its notifications.
var bound sync.Map

// Manager is the session state store. A single goroutine owns the mutable
// state; notifications, probe answers and profile results reach it as
// messages, and readers get immutable snapshots.
type Manager struct {
	service     AuthService
	profiles    ProfileStore
	profileSync *ProfileSynchronizer
	resolver    *RoleResolver
	host        AuthHost
	cfg         Config
	logger      Logger
	auditSink   AuditSink
	featureGate gate.FeatureGate
	now         func() time.Time

	audit *auditDispatcher
	inbox *mailbox[message]

	postMu     sync.Mutex
	clock      uint64
	generation uint64

	snapshot atomic.Pointer[Snapshot]

	listenersMu sync.RWMutex
	listeners   map[int]func(Snapshot)
	nextID      int

	settleMu sync.Mutex
	settled  chan struct{}

	lifecycleMu sync.Mutex
	initialized bool
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}

	state actorState
}

// actorState is only touched by the actor goroutine.
type actorState struct {
	active         bool
	user           *AuthenticatedUser
	session        *Session
	profile        *Profile
	loading        bool
	profileLoading bool
	lastApplied    uint64
	fetchSeq       uint64
	generation     uint64
	phase          Phase
}

// ManagerOption customizes the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAuditSink sets the security event sink.
func WithAuditSink(sink AuditSink) ManagerOption {
	return func(m *Manager) {
		m.auditSink = normalizeAuditSink(sink)
	}
}

// WithFeatureGate gates sign up and password reset.
func WithFeatureGate(fg gate.FeatureGate) ManagerOption {
	return func(m *Manager) {
		m.featureGate = fg
	}
}

// WithHost binds the host adapter.
func WithHost(h AuthHost) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.host = h
		}
	}
}

// WithRoleResolver overrides the role resolver.
func WithRoleResolver(r *RoleResolver) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithSynchronizer overrides the profile synchronizer.
func WithSynchronizer(s *ProfileSynchronizer) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.profileSync = s
		}
	}
}

// WithConfig sets retry budgets and audit buffering.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		if cfg != nil {
			m.cfg = cfg
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a manager bound to service and profiles. Call Init
// before use and Dispose when done.
func NewManager(service AuthService, profiles ProfileStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		service:   service,
		profiles:  profiles,
		host:      NewStandaloneHost(""),
		cfg:       Options{},
		logger:    defLogger{},
		auditSink: noopAuditSink{},
		now:       time.Now,
		listeners: map[int]func(Snapshot){},
		settled:   make(chan struct{}),
		state:     actorState{phase: PhaseUninitialized},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.profileSync == nil {
		m.profileSync = NewProfileSynchronizer(profiles,
			WithSynchronizerLogger(m.logger),
			WithRoleCacheSize(m.cfg.GetRoleCacheSize()),
			WithFetchTimeout(m.cfg.GetProfileFetchTimeout()),
			WithSynchronizerCanonicalizer(NewRoleCanonicalizer(roleAliasesFromConfig(m.cfg))),
		)
	}
	if m.resolver == nil {
		m.resolver = NewRoleResolver(WithRoleAliases(roleAliasesFromConfig(m.cfg)))
	}

	m.publish()
	return m
}

// Init registers for session notifications and then probes the current
// session. The probe runs in the background; use WaitSettled to block
// until the manager leaves LOADING.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.initialized {
		return nil
	}

	if m.service == nil || !reflect.TypeOf(m.service).Comparable() {
		return ErrServiceNotComparable
	}
	if existing, loaded := bound.LoadOrStore(m.service, m); loaded && existing != m {
		return ErrManagerAlreadyBound
	}

	m.audit = newAuditDispatcher(m.auditSink, m.logger, m.cfg.GetAuditBufferSize(), m.now)
	m.audit.decorate = m.host.DecorateAudit
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	// a session query left over from a previous lifecycle may still post, it must
	// see the new inbox and be told apart by its generation
	m.postMu.Lock()
	m.generation++
	gen := m.generation
	seed := m.clock
	m.inbox = newMailbox[message]()
	m.postMu.Unlock()

	m.settleMu.Lock()
	m.settled = make(chan struct{})
	m.settleMu.Unlock()

	m.state = actorState{
		active:      true,
		loading:     true,
		lastApplied: seed,
		generation:  gen,
		phase:       m.state.phase,
	}
	m.publish()

	m.profileSync.Start()
	go m.run(m.stop, m.done)

	// listener first, the probe answer may otherwise hide a transition
	// fired while it was in flight
	m.unsubscribe = m.service.OnSessionChange(func(event SessionChangeEvent, session *Session) {
		m.post(&sessionMsg{event: event, session: session})
	})

	stamp := m.currentStamp()
	go m.probe(ctx, stamp, gen)

	m.initialized = true
	m.logger.Debug("session manager initialized", "host", m.host.Mode())
	return nil
}

func (m *Manager) probe(ctx context.Context, stamp, gen uint64) {
	session, err := m.service.GetCurrentSession(context.WithoutCancel(ctx))
	m.post(&probeMsg{issuedAt: stamp, generation: gen, session: session, err: err})
}

// Dispose unregisters from the service, stops the workers and drains
// pending audit events. The manager returns to UNINITIALIZED.
func (m *Manager) Dispose() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.initialized {
		return
	}
	m.initialized = false

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	close(m.stop)
	<-m.done
	m.inbox.Close()
	m.profileSync.Stop()
	m.audit.Close(m.cfg.GetAuditDrainTimeout())

	bound.CompareAndDelete(m.service, m)

	m.state = actorState{phase: m.state.phase}
	m.publish()
	m.logger.Debug("session manager disposed")
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	if s := m.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{Phase: PhaseUninitialized}
}

// Host returns the bound host adapter.
func (m *Manager) Host() AuthHost {
	return m.host
}

// Resolver returns the role resolver.
func (m *Manager) Resolver() *RoleResolver {
	return m.resolver
}

// Synchronizer returns the profile synchronizer.
func (m *Manager) Synchronizer() *ProfileSynchronizer {
	return m.profileSync
}

// Subscribe registers fn for every published snapshot. fn runs on the
// manager goroutine and must not block or call back into the manager
// synchronously.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// WaitSettled blocks until the manager leaves LOADING or ctx is done.
func (m *Manager) WaitSettled(ctx context.Context) (Snapshot, error) {
	m.settleMu.Lock()
	ch := m.settled
	m.settleMu.Unlock()

	select {
	case <-ch:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

func (m *Manager) ensureInitialized() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.initialized {
		return ErrManagerNotInitialized
	}
	return nil
}

// message is a unit of work for the actor goroutine.
type message interface {
	apply(m *Manager)
}

type stamped struct {
	stamp uint64
	ack   chan struct{}
}

func (s *stamped) setStamp(v uint64) { s.stamp = v }
func (s *stamped) acked() {
	if s.ack != nil {
		close(s.ack)
	}
}

type stampable interface {
	setStamp(uint64)
	acked()
}

func (m *Manager) currentStamp() uint64 {
	m.postMu.Lock()
	defer m.postMu.Unlock()
	return m.clock
}

func (m *Manager) post(msg message) bool {
	m.postMu.Lock()
	defer m.postMu.Unlock()
	if s, ok := msg.(stampable); ok {
		m.clock++
		s.setStamp(m.clock)
	}
	if m.inbox == nil {
		return false
	}
	return m.inbox.Put(msg)
}

// postAndWait posts a session or profile message and waits until the actor
// applied it, so the caller observes its own write.
func (m *Manager) postAndWait(ctx context.Context, msg message, ack chan struct{}) {
	if !m.post(msg) {
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	case <-m.done:
	}
}

func (m *Manager) run(stop, done chan struct{}) {
	defer close(done)
	for {
		for _, msg := range m.inbox.Take() {
			msg.apply(m)
		}

		select {
		case <-stop:
			return
		case <-m.inbox.Wait():
		}
	}
}

type sessionMsg struct {
	stamped
	event   SessionChangeEvent
	session *Session
}

func (msg *sessionMsg) apply(m *Manager) {
	defer msg.acked()
	m.applySession(msg.stamp, msg.session, msg.event)
}

type probeMsg struct {
	issuedAt   uint64
	generation uint64
	session    *Session
	err        error
}

func (msg *probeMsg) apply(m *Manager) {
	st := &m.state
	if msg.generation != st.generation {
		m.logger.Debug("discarding session answer from a previous lifecycle", "generation", msg.generation)
		return
	}
	if st.lastApplied > msg.issuedAt {
		m.logger.Debug("discarding stale session probe", "issued_at", msg.issuedAt, "last_applied", st.lastApplied)
		if st.loading {
			st.loading = false
			m.publish()
		}
		return
	}

	if msg.err != nil {
		m.logger.Error("current session probe failed", "error", msg.err)
		m.applySession(st.lastApplied, nil, SessionEventInitial)
		return
	}

	m.applySession(st.lastApplied, msg.session, SessionEventInitial)
}

type profileMsg struct {
	generation uint64
	result     profileResult
}

func (msg *profileMsg) apply(m *Manager) {
	st := &m.state
	r := msg.result
	if msg.generation != st.generation || r.seq != st.fetchSeq || st.user == nil || st.user.ID != r.userID {
		m.logger.Debug("dropping stale profile result", "user_id", r.userID)
		return
	}
	st.profileLoading = false
	if r.profile != nil {
		st.profile = r.profile
	}
	m.publish()
}

type profilePatchMsg struct {
	stamped
	userID  string
	profile *Profile
}

func (msg *profilePatchMsg) apply(m *Manager) {
	defer msg.acked()
	st := &m.state
	if st.user == nil || st.user.ID != msg.userID || msg.profile == nil {
		return
	}
	st.profile = msg.profile.Clone()
	st.profileLoading = false
	// a fetch still in flight would only bring an older row
	st.fetchSeq++
	m.publish()
}

func (m *Manager) applySession(stamp uint64, session *Session, event SessionChangeEvent) {
	st := &m.state
	if stamp > st.lastApplied {
		st.lastApplied = stamp
	}

	var user *AuthenticatedUser
	if session != nil && session.User != nil && !session.Expired(m.now()) {
		user = session.User
	} else {
		session = nil
	}

	prevID := ""
	if st.user != nil {
		prevID = st.user.ID
	}

	st.loading = false
	st.session = session
	st.user = user

	switch {
	case user == nil:
		st.profile = nil
		st.profileLoading = false
		st.fetchSeq++
	case user.ID != prevID:
		st.profile = nil
		m.scheduleProfileFetch(user.ID)
	case st.profile == nil && !st.profileLoading:
		m.scheduleProfileFetch(user.ID)
	}

	m.logger.Debug("session event applied", "event", event, "user_id", m.state.userID())
	m.publish()
}

func (m *Manager) scheduleProfileFetch(userID string) {
	st := &m.state
	st.fetchSeq++
	st.profileLoading = true
	seq := st.fetchSeq
	gen := st.generation

	watch := time.Duration(m.cfg.GetProfileMaxRetries()) * m.cfg.GetProfileRetryDelay()
	ok := m.profileSync.schedule(userID, seq, watch, func(r profileResult) {
		m.post(&profileMsg{generation: gen, result: r})
	})
	if !ok {
		st.profileLoading = false
	}
}

func (st actorState) userID() string {
	if st.user == nil {
		return ""
	}
	return st.user.ID
}

func (m *Manager) publish() {
	st := &m.state
	next := PhaseUninitialized
	if st.active {
		next = derivePhase(st.loading, st.user, st.profile)
	}
	if !st.phase.CanTransition(next) {
		m.logger.Warn("unexpected session phase transition", "from", st.phase, "to", next)
	}
	st.phase = next

	snap := &Snapshot{
		Phase:          next,
		User:           st.user,
		Session:        st.session,
		Profile:        st.profile.Clone(),
		Loading:        st.loading,
		ProfileLoading: st.profileLoading,
		UpdatedAt:      m.now(),
	}
	m.snapshot.Store(snap)

	if next.IsSettled() {
		m.settleMu.Lock()
		select {
		case <-m.settled:
		default:
			close(m.settled)
		}
		m.settleMu.Unlock()
	}

	m.listenersMu.RLock()
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(*snap)
	}
}

// SignInResult is returned by SignIn.
type SignInResult struct {
	User       *AuthenticatedUser
	Session    *Session
	Resolution RoleResolution
}

// SignIn exchanges credentials, applies the new session and resolves the
// landing path through the role fallback chain.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if err := m.ensureInitialized(); err != nil {
		return nil, err
	}

	if err := (credentialsPayload{Email: email, Password: password}).Validate(); err != nil {
		return nil, validationError(err, "invalid sign in payload")
	}

	res, err := m.service.SignIn(ctx, email, password)
	if err == nil && (res == nil || res.User == nil || res.Session == nil) {
		err = goerrors.New("authentication service returned no session", goerrors.CategoryAuth)
	}
	if err != nil {
		credErr := ClassifyCredentialError(err)
		m.logger.Info("sign in failed", "email", email, "reason", credErr.TextCode)
		m.audit.Record("", AuditLoginFailed, map[string]any{
			"email":  email,
			"reason": credErr.TextCode,
			"error":  err.Error(),
		}, false)
		return nil, credErr
	}

	m.audit.Record(res.User.ID, AuditLogin, map[string]any{"email": email}, true)

	session := sessionWithUser(res.Session, res.User)
	m.applyDirect(ctx, session, SessionEventSignedIn)

	resolution := m.resolveLanding(ctx, res.User)
	m.logger.Info("signed in", "user_id", res.User.ID, "role", resolution.Role, "source", resolution.Source)

	return &SignInResult{
		User:       res.User,
		Session:    session,
		Resolution: resolution,
	}, nil
}

// SignUpResult is returned by SignUp. PendingConfirmation is set when the
// service did not open a session yet.
type SignUpResult struct {
	User                *AuthenticatedUser
	Session             *Session
	Resolution          RoleResolution
	PendingConfirmation bool
}

// SignUp creates the account. When a session is returned it waits for the
// profile row within the retry budget before resolving the landing path.
func (m *Manager) SignUp(ctx context.Context, payload SignUpPayload) (*SignUpResult, error) {
	if err := m.ensureInitialized(); err != nil {
		return nil, err
	}

	if err := requireSignupGate(ctx, m.featureGate); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return nil, validationError(err, "invalid sign up payload")
	}

	res, err := m.service.SignUp(ctx, payload.Email, payload.Password, payload.Metadata())
	if err == nil && (res == nil || res.User == nil) {
		err = goerrors.New("authentication service returned no user", goerrors.CategoryAuth)
	}
	if err != nil {
		credErr := ClassifyCredentialError(err)
		m.logger.Info("sign up failed", "email", payload.Email, "reason", credErr.TextCode)
		m.audit.Record("", AuditSignupFailed, map[string]any{
			"email":  payload.Email,
			"reason": credErr.TextCode,
			"error":  err.Error(),
		}, false)
		return nil, credErr
	}

	m.audit.Record(res.User.ID, AuditSignup, map[string]any{
		"email":          payload.Email,
		"requested_role": payload.Role,
	}, true)

	out := &SignUpResult{User: res.User}
	if res.Session == nil {
		out.PendingConfirmation = true
		out.Resolution = m.resolver.Resolve(RoleResolutionContext{MetadataRole: res.User.MetadataRole()})
		out.Resolution.Path = m.host.Path(out.Resolution.Path)
		return out, nil
	}

	out.Session = sessionWithUser(res.Session, res.User)
	m.applyDirect(ctx, out.Session, SessionEventSignedIn)
	out.Resolution = m.resolveLanding(ctx, res.User)
	return out, nil
}

// SignOut records the logout, asks the service to drop the session and
// clears local state. Local state is cleared even when the service call
// fails.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.ensureInitialized(); err != nil {
		return err
	}

	userID := m.Snapshot().UserID()

	// issued before the clear so a logout is recorded even if the clear fails
	m.audit.RecordReliable(userID, AuditLogout, nil, true)

	err := m.service.SignOut(ctx)
	m.applyDirect(ctx, nil, SessionEventSignedOut)

	if err != nil {
		m.logger.Error("sign out failed, local session cleared", "user_id", userID, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to sign out")
	}
	return nil
}

// RequestPasswordReset asks the service to email a reset link pointing to
// the host password reset page.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if err := m.ensureInitialized(); err != nil {
		return err
	}

	if err := requirePasswordResetGate(ctx, m.featureGate); err != nil {
		return err
	}

	if err := (emailPayload{Email: email}).Validate(); err != nil {
		return validationError(err, "invalid password reset payload")
	}

	redirectTo := m.host.URL(m.cfg.GetPasswordResetPath())
	if err := m.service.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		credErr := ClassifyCredentialError(err)
		m.audit.Record("", AuditPasswordResetFailed, map[string]any{
			"email":  email,
			"reason": credErr.TextCode,
			"error":  err.Error(),
		}, false)
		return credErr
	}

	m.audit.Record("", AuditPasswordReset, map[string]any{
		"email":       email,
		"redirect_to": redirectTo,
	}, true)
	return nil
}

// UpdatePassword changes the password of the signed in user.
func (m *Manager) UpdatePassword(ctx context.Context, password string) error {
	if err := m.ensureInitialized(); err != nil {
		return err
	}

	userID := m.Snapshot().UserID()
	if userID == "" {
		return ErrNotAuthenticated
	}

	if err := (passwordPayload{Password: password}).Validate(); err != nil {
		return validationError(err, "invalid password")
	}

	if err := m.service.UpdateUser(ctx, password); err != nil {
		credErr := ClassifyCredentialError(err)
		m.audit.Record(userID, AuditPasswordUpdateFailed, map[string]any{
			"reason": credErr.TextCode,
			"error":  err.Error(),
		}, false)
		return credErr
	}

	m.audit.Record(userID, AuditPasswordUpdate, nil, true)
	return nil
}

// UpdateProfile writes a partial update and returns the prior profile
// merged with it. The published snapshot carries the merged profile.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	if err := m.ensureInitialized(); err != nil {
		return nil, err
	}

	snap := m.Snapshot()
	if snap.User == nil {
		return nil, ErrNotAuthenticated
	}

	if err := update.Validate(); err != nil {
		return nil, validationError(err, "invalid profile update")
	}

	if update.IsEmpty() {
		return snap.Profile.Clone(), nil
	}

	if m.profiles == nil {
		return nil, goerrors.New("profile store not configured", goerrors.CategoryInternal)
	}

	stored, err := m.profiles.UpdateProfile(ctx, snap.User.ID, update)
	if err != nil {
		m.logger.Error("profile update failed", "user_id", snap.User.ID, "error", err)
		if IsProfileNotFound(err) {
			return nil, err
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	merged := snap.Profile.Merge(update)
	if merged == nil {
		merged = stored.Clone()
		if role, ok := m.resolver.Canonical(string(merged.Role)); ok {
			merged.Role = role
		}
	}

	ack := make(chan struct{})
	m.postAndWait(ctx, &profilePatchMsg{stamped: stamped{ack: ack}, userID: snap.User.ID, profile: merged}, ack)

	m.audit.Record(snap.User.ID, AuditProfileUpdate, map[string]any{"fields": update.Columns()}, true)
	return merged.Clone(), nil
}

func (m *Manager) applyDirect(ctx context.Context, session *Session, event SessionChangeEvent) {
	ack := make(chan struct{})
	m.postAndWait(ctx, &sessionMsg{stamped: stamped{ack: ack}, event: event, session: session}, ack)
}

// resolveLanding runs the bounded profile wait and the fallback chain.
func (m *Manager) resolveLanding(ctx context.Context, user *AuthenticatedUser) RoleResolution {
	profile := m.profileSync.waitForProfile(ctx, user.ID, m.cfg.GetProfileMaxRetries(), m.cfg.GetProfileRetryDelay())

	polled := ""
	if profile != nil {
		polled = string(profile.Role)
		ack := make(chan struct{})
		m.postAndWait(ctx, &profilePatchMsg{stamped: stamped{ack: ack}, userID: user.ID, profile: profile}, ack)
	}

	cached := ""
	if snap := m.Snapshot(); snap.Profile != nil && snap.Profile.UserID == user.ID {
		cached = string(snap.Profile.Role)
	} else if role, ok := m.profileSync.CachedRole(user.ID); ok {
		cached = string(role)
	}

	resolution := m.resolver.Resolve(RoleResolutionContext{
		PolledRole:   polled,
		MetadataRole: user.MetadataRole(),
		CachedRole:   cached,
	})
	if resolution.Source != RoleSourceDefault {
		m.profileSync.RememberRole(user.ID, resolution.Role)
	}
	resolution.Path = m.host.Path(resolution.Path)
	return resolution
}

func sessionWithUser(session *Session, user *AuthenticatedUser) *Session {
	if session == nil {
		return nil
	}
	out := *session
	if out.User == nil {
		out.User = user
	}
	return &out
}
