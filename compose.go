package auth

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
)

// Dependencies are the collaborators Compose wires together.
type Dependencies struct {
	Service     AuthService
	Profiles    ProfileStore
	AuditSink   AuditSink
	Notifier    ProfileNotifier
	FeatureGate gate.FeatureGate
	Logger      Logger
	// ExternalUserID is only used by the embedded host.
	ExternalUserID func() string
}

// Composition is the wired subsystem.
type Composition struct {
	Manager      *Manager
	Host         AuthHost
	Resolver     *RoleResolver
	Synchronizer *ProfileSynchronizer
	cfg          Config
}

// Compose selects the host from cfg and binds it into every component.
func Compose(cfg Config, deps Dependencies) (*Composition, error) {
	if cfg == nil {
		cfg = Options{}
	}
	if deps.Service == nil {
		return nil, errors.New("authentication service is required", errors.CategoryBadInput).
			WithTextCode("AUTH_SERVICE_REQUIRED")
	}

	logger := normalizeLogger(deps.Logger)

	host, err := NewHost(cfg, deps.ExternalUserID)
	if err != nil {
		return nil, err
	}

	aliases := roleAliasesFromConfig(cfg)

	resolver := NewRoleResolver(
		WithRoleAliases(aliases),
		WithLandingPaths(landingPathsFromConfig(cfg)),
	)

	synchronizer := NewProfileSynchronizer(deps.Profiles,
		WithProfileNotifier(deps.Notifier),
		WithSynchronizerLogger(logger),
		WithRoleCacheSize(cfg.GetRoleCacheSize()),
		WithFetchTimeout(cfg.GetProfileFetchTimeout()),
		WithSynchronizerCanonicalizer(NewRoleCanonicalizer(aliases)),
	)

	manager := NewManager(deps.Service, deps.Profiles,
		WithConfig(cfg),
		WithLogger(logger),
		WithHost(host),
		WithRoleResolver(resolver),
		WithSynchronizer(synchronizer),
		WithAuditSink(deps.AuditSink),
		WithFeatureGate(deps.FeatureGate),
	)

	return &Composition{
		Manager:      manager,
		Host:         host,
		Resolver:     resolver,
		Synchronizer: synchronizer,
		cfg:          cfg,
	}, nil
}

// NewHost builds the host adapter named by cfg.
func NewHost(cfg Config, externalUserID func() string) (AuthHost, error) {
	switch cfg.GetHostMode() {
	case HostModeStandalone:
		return NewStandaloneHost(cfg.GetBaseURL()), nil
	case HostModeEmbedded:
		if cfg.GetNamespace() == "" {
			return nil, errors.New("embedded host requires a namespace", errors.CategoryBadInput).
				WithTextCode("HOST_NAMESPACE_REQUIRED")
		}
		return NewEmbeddedHost(cfg.GetBaseURL(), cfg.GetNamespace(), externalUserID), nil
	default:
		return nil, errors.New("unknown host mode: "+string(cfg.GetHostMode()), errors.CategoryBadInput).
			WithTextCode("HOST_MODE_UNKNOWN")
	}
}

// Guard returns a route guard configured from the composition defaults.
func (c *Composition) Guard(opts ...GuardOption) RouteGuard {
	base := []GuardOption{
		WithFallbackPath(c.cfg.GetLoginPath()),
		WithAuthenticatedLanding(c.cfg.GetAuthenticatedLanding()),
	}
	return NewRouteGuard(append(base, opts...)...)
}

// Protect returns a middleware enforcing a guard built from opts.
func (c *Composition) Protect(opts ...GuardOption) router.MiddlewareFunc {
	return GuardMiddleware(c.Manager, c.Host, c.Guard(opts...))
}

func landingPathsFromConfig(cfg Config) LandingPaths {
	raw := cfg.GetLandingPaths()
	if len(raw) == 0 {
		return nil
	}
	out := make(LandingPaths, len(raw))
	for role, path := range raw {
		out[Role(role)] = path
	}
	return out
}
