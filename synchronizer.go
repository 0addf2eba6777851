package auth

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// profileResult is posted back to the manager once a fetch task completes.
type profileResult struct {
	userID  string
	seq     uint64
	profile *Profile
	err     error
}

type fetchTask struct {
	userID  string
	seq     uint64
	watch   time.Duration
	deliver func(profileResult)
}

// ProfileSynchronizer bridges the window between a successful credential
// exchange and the asynchronous creation of the profile row. Background
// fetches run on a dedicated worker so they never execute on the caller's
// stack.
type ProfileSynchronizer struct {
	store         ProfileStore
	notifier      ProfileNotifier
	canonicalizer RoleCanonicalizer
	logger        Logger
	fetchTimeout  time.Duration
	roles         *lru.Cache[string, Role]

	tasks   *mailbox[fetchTask]
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// SynchronizerOption customizes the synchronizer.
type SynchronizerOption func(*ProfileSynchronizer)

// WithProfileNotifier enables the push path. Polling stays as the bounded
// fallback.
func WithProfileNotifier(n ProfileNotifier) SynchronizerOption {
	return func(s *ProfileSynchronizer) {
		s.notifier = n
	}
}

// WithSynchronizerLogger overrides the logger.
func WithSynchronizerLogger(l Logger) SynchronizerOption {
	return func(s *ProfileSynchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSynchronizerCanonicalizer sets the role vocabulary mapping applied to
// fetched rows.
func WithSynchronizerCanonicalizer(c RoleCanonicalizer) SynchronizerOption {
	return func(s *ProfileSynchronizer) {
		s.canonicalizer = c
	}
}

// WithRoleCacheSize sets the size of the last known role cache.
func WithRoleCacheSize(size int) SynchronizerOption {
	return func(s *ProfileSynchronizer) {
		if size <= 0 {
			return
		}
		if cache, err := lru.New[string, Role](size); err == nil {
			s.roles = cache
		}
	}
}

// WithFetchTimeout bounds every single profile query.
func WithFetchTimeout(d time.Duration) SynchronizerOption {
	return func(s *ProfileSynchronizer) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewProfileSynchronizer returns a synchronizer reading from store.
func NewProfileSynchronizer(store ProfileStore, opts ...SynchronizerOption) *ProfileSynchronizer {
	roles, _ := lru.New[string, Role](DefaultRoleCacheSize)
	s := &ProfileSynchronizer{
		store:         store,
		canonicalizer: NewRoleCanonicalizer(nil),
		logger:        defLogger{},
		fetchTimeout:  10 * time.Second,
		roles:         roles,
		tasks:         newMailbox[fetchTask](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the fetch worker. Calling Start twice is a no-op.
func (s *ProfileSynchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Stop terminates the worker and waits for the in-flight task.
func (s *ProfileSynchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *ProfileSynchronizer) run(stop, done chan struct{}) {
	defer close(done)
	for {
		for _, task := range s.tasks.Take() {
			select {
			case <-stop:
				return
			default:
			}
			s.execute(stop, task)
		}

		select {
		case <-stop:
			return
		case <-s.tasks.Wait():
		}
	}
}

func (s *ProfileSynchronizer) execute(stop chan struct{}, task fetchTask) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	profile, err := s.fetch(ctx, task.userID)
	if profile == nil && err == nil && task.watch > 0 && s.notifier != nil {
		profile, err = s.watch(ctx, task.userID, task.watch)
	}

	if task.deliver != nil {
		task.deliver(profileResult{userID: task.userID, seq: task.seq, profile: profile, err: err})
	}
}

// schedule queues a background fetch. watch > 0 keeps a push subscription
// open for that long when the row is missing.
func (s *ProfileSynchronizer) schedule(userID string, seq uint64, watch time.Duration, deliver func(profileResult)) bool {
	return s.tasks.Put(fetchTask{userID: userID, seq: seq, watch: watch, deliver: deliver})
}

// FetchProfile runs a single profile query. A missing row and a failed
// query both return nil; failures are logged.
func (s *ProfileSynchronizer) FetchProfile(ctx context.Context, userID string) *Profile {
	profile, _ := s.fetch(ctx, userID)
	return profile
}

func (s *ProfileSynchronizer) fetch(ctx context.Context, userID string) (*Profile, error) {
	if s.store == nil || userID == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if IsProfileNotFound(err) {
			s.logger.Debug("profile not provisioned yet", "user_id", userID)
			return nil, nil
		}
		s.logger.Error("profile fetch failed", "user_id", userID, "error", err)
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	out := profile.Clone()
	if out.UserID != "" && out.UserID != userID {
		s.logger.Warn("profile user mismatch, ignoring row", "user_id", userID, "row_user_id", out.UserID)
		return nil, nil
	}
	out.UserID = userID

	raw := string(out.Role)
	if role, ok := s.canonicalizer.Canonical(raw); ok {
		out.Role = role
		s.roles.Add(userID, role)
	} else {
		s.logger.Warn("profile role outside canonical vocabulary", "user_id", userID, "role", raw)
		out.Role = ""
	}

	return out, nil
}

// WaitForProfile polls for the profile row up to maxRetries times with a
// fixed delay between attempts and returns the role as soon as one is
// found, or an empty role once the budget is exhausted. The whole call
// never outlasts maxRetries*delay.
func (s *ProfileSynchronizer) WaitForProfile(ctx context.Context, userID string, maxRetries int, delay time.Duration) Role {
	profile := s.waitForProfile(ctx, userID, maxRetries, delay)
	if profile == nil {
		return ""
	}
	return profile.Role
}

func (s *ProfileSynchronizer) waitForProfile(ctx context.Context, userID string, maxRetries int, delay time.Duration) *Profile {
	if maxRetries <= 0 {
		return nil
	}
	if delay < 0 {
		delay = 0
	}

	budget := time.Duration(maxRetries) * delay
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var pushed <-chan string
	if s.notifier != nil {
		ch, unsubscribe, err := s.notifier.Subscribe(ctx, userID)
		if err != nil {
			s.logger.Warn("profile notifier subscribe failed, polling only", "user_id", userID, "error", err)
		} else {
			pushed = ch
			defer unsubscribe()
		}
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		profile, _ := s.fetch(ctx, userID)
		if profile != nil && profile.Role != "" {
			s.logger.Debug("profile found", "user_id", userID, "attempt", attempt)
			return profile
		}

		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("profile wait budget exhausted", "user_id", userID, "attempts", attempt)
			return nil
		case _, ok := <-pushed:
			timer.Stop()
			if !ok {
				pushed = nil
			}
		case <-timer.C:
		}
	}

	s.logger.Info("profile not found after retries", "user_id", userID, "retries", maxRetries)
	return nil
}

func (s *ProfileSynchronizer) watch(ctx context.Context, userID string, budget time.Duration) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ch, unsubscribe, err := s.notifier.Subscribe(ctx, userID)
	if err != nil {
		s.logger.Warn("profile notifier subscribe failed", "user_id", userID, "error", err)
		return nil, nil
	}
	defer unsubscribe()

	// the row may have landed between the first query and the subscription
	if profile, err := s.fetch(ctx, userID); profile != nil || err != nil {
		return profile, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case _, ok := <-ch:
			if !ok {
				return nil, nil
			}
			if profile, err := s.fetch(ctx, userID); profile != nil || err != nil {
				return profile, err
			}
		}
	}
}

// CachedRole returns the last role seen for userID, surviving sign out.
func (s *ProfileSynchronizer) CachedRole(userID string) (Role, bool) {
	if userID == "" || s.roles == nil {
		return "", false
	}
	return s.roles.Get(userID)
}

// RememberRole records a resolved role for later sessions.
func (s *ProfileSynchronizer) RememberRole(userID string, role Role) {
	if userID == "" || !role.IsValid() || s.roles == nil {
		return
	}
	s.roles.Add(userID, role)
}
