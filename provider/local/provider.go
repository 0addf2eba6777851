// Package local is an in-process AuthService for development and tests.
//
// It behaves like the hosted identity service the session manager talks
// to: passwords are bcrypt hashed, sessions carry HS256 access tokens,
// user ids are stable hashids derived from the email, session callbacks
// run while the provider holds its internal lock, and profile rows are
// provisioned asynchronously after sign up, as a database trigger would.
package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service error texts. The session manager classifies them by substring.
var (
	ErrInvalidLogin      = errors.New("Invalid login credentials")
	ErrEmailNotConfirmed = errors.New("Email not confirmed")
	ErrRateLimit         = errors.New("Request rate limit reached, too many requests")
	ErrAlreadyRegistered = errors.New("User already registered")
	ErrWeakPassword      = errors.New("Password should be at least 6 characters")
	ErrNoSession         = errors.New("Auth session missing")
)

// Provisioner creates profile rows, repository.ProfileRepository satisfies it.
type Provisioner interface {
	Provision(ctx context.Context, profile *auth.Profile) (*auth.Profile, error)
}

// Publisher announces provisioned profiles, redisnotify.Notifier satisfies it.
type Publisher interface {
	Publish(ctx context.Context, userID string, role auth.Role) error
}

// ResetMessage is a password reset email that would have been sent.
type ResetMessage struct {
	Email      string
	RedirectTo string
	Token      string
	SentAt     time.Time
}

type account struct {
	id        string
	email     string
	hash      string
	metadata  map[string]any
	confirmed bool
	failures  int
}

// Provider implements auth.AuthService in memory.
type Provider struct {
	mu        sync.Mutex
	accounts  map[string]*account
	current   *auth.Session
	listeners map[int]auth.SessionChangeFunc
	nextID    int
	outbox    []ResetMessage
	timers    []*time.Timer
	wg        sync.WaitGroup
	closed    bool

	signingKey          []byte
	issuer              string
	sessionTTL          time.Duration
	hashCost            int
	requireConfirmation bool
	maxFailures         int
	probeDelay          time.Duration
	provisionDelay      time.Duration
	provisioner         Provisioner
	publisher           Publisher
	logger              auth.Logger
	now                 func() time.Time
}

var _ auth.AuthService = (*Provider)(nil)

// Option customizes the provider.
type Option func(*Provider)

// WithSigningKey sets the HS256 key used for access tokens.
func WithSigningKey(key string) Option {
	return func(p *Provider) {
		if key != "" {
			p.signingKey = []byte(key)
		}
	}
}

// WithIssuer sets the token issuer.
func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		if issuer != "" {
			p.issuer = issuer
		}
	}
}

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.sessionTTL = ttl
		}
	}
}

// WithHashCost sets the bcrypt cost, tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.hashCost = cost
		}
	}
}

// WithEmailConfirmation makes sign up return no session until ConfirmEmail.
func WithEmailConfirmation(required bool) Option {
	return func(p *Provider) {
		p.requireConfirmation = required
	}
}

// WithMaxFailedAttempts rate limits an email after n consecutive failures.
func WithMaxFailedAttempts(n int) Option {
	return func(p *Provider) {
		p.maxFailures = n
	}
}

// WithProbeDelay delays GetCurrentSession answers. The answer reflects the
// session at call time.
func WithProbeDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.probeDelay = d
	}
}

// WithProvisioning creates the profile row delay after sign up.
func WithProvisioning(provisioner Provisioner, delay time.Duration) Option {
	return func(p *Provider) {
		p.provisioner = provisioner
		p.provisionDelay = delay
	}
}

// WithPublisher announces provisioned profiles.
func WithPublisher(pub Publisher) Option {
	return func(p *Provider) {
		p.publisher = pub
	}
}

// WithLogger sets the logger.
func WithLogger(l auth.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock injects a clock.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		accounts:   map[string]*account{},
		listeners:  map[int]auth.SessionChangeFunc{},
		signingKey: []byte("local-development-signing-key"),
		issuer:     "go-auth-session/local",
		sessionTTL: time.Hour,
		hashCost:   bcrypt.DefaultCost,
		logger:     auth.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// UserID returns the stable id assigned to email.
func UserID(email string) string {
	email = normalizeEmail(email)
	if id, err := hashid.NewUUID(email); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(email)).String()
}

func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.AuthResult, error) {
	email = normalizeEmail(email)
	if len(password) < auth.MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[email]; exists {
		return nil, ErrAlreadyRegistered
	}

	acc := &account{
		id:        UserID(email),
		email:     email,
		hash:      hash,
		metadata:  cloneMetadata(metadata),
		confirmed: !p.requireConfirmation,
	}
	p.accounts[email] = acc
	p.scheduleProvisioningLocked(acc)

	user := acc.user()
	if !acc.confirmed {
		p.logger.Info("account created, confirmation pending", "user_id", acc.id)
		return &auth.AuthResult{User: user}, nil
	}

	session, err := p.issueLocked(acc)
	if err != nil {
		return nil, err
	}
	p.current = session
	p.emitLocked(auth.SessionEventSignedIn, session)
	return &auth.AuthResult{User: user, Session: session}, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	email = normalizeEmail(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[email]
	if !ok {
		return nil, ErrInvalidLogin
	}
	if p.maxFailures > 0 && acc.failures >= p.maxFailures {
		return nil, ErrRateLimit
	}
	if err := ComparePasswordAndHash(password, acc.hash); err != nil {
		acc.failures++
		return nil, ErrInvalidLogin
	}
	if !acc.confirmed {
		return nil, ErrEmailNotConfirmed
	}
	acc.failures = 0

	session, err := p.issueLocked(acc)
	if err != nil {
		return nil, err
	}
	p.current = session
	p.emitLocked(auth.SessionEventSignedIn, session)
	return &auth.AuthResult{User: acc.user(), Session: session}, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil
	}
	p.current = nil
	p.emitLocked(auth.SessionEventSignedOut, nil)
	return nil
}

func (p *Provider) UpdateUser(ctx context.Context, password string) error {
	if len(password) < auth.MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || p.current.User == nil {
		return ErrNoSession
	}
	acc, ok := p.accounts[p.current.User.Email]
	if !ok {
		return ErrNoSession
	}
	acc.hash = hash
	p.emitLocked(auth.SessionEventUserUpdated, p.current)
	return nil
}

// ResetPasswordForEmail records a reset message. Unknown emails succeed
// silently so callers cannot probe for accounts.
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email = normalizeEmail(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[email]
	if !ok {
		return nil
	}
	if p.maxFailures > 0 && acc.failures >= p.maxFailures {
		return ErrRateLimit
	}
	p.outbox = append(p.outbox, ResetMessage{
		Email:      email,
		RedirectTo: redirectTo,
		Token:      uuid.NewString(),
		SentAt:     p.now(),
	})
	return nil
}

// OnSessionChange registers fn. Callbacks run while the provider lock is
// held: fn must not call back into the provider.
func (p *Provider) OnSessionChange(fn auth.SessionChangeFunc) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) GetCurrentSession(ctx context.Context) (*auth.Session, error) {
	p.mu.Lock()
	session := p.current
	if session != nil && session.Expired(p.now()) {
		p.current = nil
		session = nil
		p.emitLocked(auth.SessionEventSignedOut, nil)
	}
	p.mu.Unlock()

	if p.probeDelay > 0 {
		select {
		case <-time.After(p.probeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return session, nil
}

// ConfirmEmail marks the account as confirmed.
func (p *Provider) ConfirmEmail(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[normalizeEmail(email)]
	if ok {
		acc.confirmed = true
	}
	return ok
}

// Expire drops the current session as if its token expired.
func (p *Provider) Expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.current = nil
	p.emitLocked(auth.SessionEventSignedOut, nil)
}

// Outbox returns the password reset messages sent so far.
func (p *Provider) Outbox() []ResetMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ResetMessage, len(p.outbox))
	copy(out, p.outbox)
	return out
}

// VerifyAccessToken parses a token issued by this provider.
func (p *Provider) VerifyAccessToken(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrInvalidLogin
	}
	return claims, nil
}

// Close stops pending provisioning and waits for running ones.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	for _, t := range p.timers {
		if t.Stop() {
			p.wg.Done()
		}
	}
	p.timers = nil
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Provider) issueLocked(acc *account) (*auth.Session, error) {
	now := p.now()
	expiresAt := now.Add(p.sessionTTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   acc.id,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, err
	}
	return &auth.Session{
		AccessToken:  token,
		RefreshToken: uuid.NewString(),
		ExpiresAt:    expiresAt,
		User:         acc.user(),
	}, nil
}

func (p *Provider) emitLocked(event auth.SessionChangeEvent, session *auth.Session) {
	for _, fn := range p.listeners {
		if fn != nil {
			fn(event, session)
		}
	}
}

func (p *Provider) scheduleProvisioningLocked(acc *account) {
	if p.provisioner == nil || p.closed {
		return
	}

	profile := &auth.Profile{
		UserID:       acc.id,
		Email:        acc.email,
		Role:         auth.Role(metaString(acc.metadata, "role")),
		FirstName:    metaString(acc.metadata, "first_name"),
		LastName:     metaString(acc.metadata, "last_name"),
		Country:      metaString(acc.metadata, "country"),
		Organization: metaString(acc.metadata, "organization"),
	}

	p.wg.Add(1)
	t := time.AfterFunc(p.provisionDelay, func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stored, err := p.provisioner.Provision(ctx, profile)
		if err != nil {
			p.logger.Error("profile provisioning failed", "user_id", profile.UserID, "error", err)
			return
		}
		p.logger.Debug("profile provisioned", "user_id", stored.UserID, "role", stored.Role)

		if p.publisher != nil {
			if err := p.publisher.Publish(ctx, stored.UserID, stored.Role); err != nil {
				p.logger.Warn("profile publish failed", "user_id", stored.UserID, "error", err)
			}
		}
	})
	p.timers = append(p.timers, t)
}

func (a *account) user() *auth.AuthenticatedUser {
	return &auth.AuthenticatedUser{
		ID:       a.id,
		Email:    a.email,
		Metadata: cloneMetadata(a.metadata),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, _ := meta[key].(string)
	return v
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
