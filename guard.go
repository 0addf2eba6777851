package auth

// GuardOutcome is what a route guard decided for a snapshot.
type GuardOutcome int

const (
	// GuardPending means the session is still loading, only a placeholder
	// may be shown.
	GuardPending GuardOutcome = iota
	GuardRedirect
	GuardRender
)

func (o GuardOutcome) String() string {
	switch o {
	case GuardPending:
		return "pending"
	case GuardRedirect:
		return "redirect"
	case GuardRender:
		return "render"
	default:
		return "unknown"
	}
}

// GuardDecision carries either a redirect target or a render verdict,
// never both.
type GuardDecision struct {
	Outcome    GuardOutcome
	RedirectTo string
}

// RouteGuard is a declarative gate over the session state.
type RouteGuard struct {
	RequireAuth          bool
	RequiredRoles        []Role
	FallbackPath         string
	AuthenticatedLanding string
}

// GuardOption customizes a route guard.
type GuardOption func(*RouteGuard)

// WithRequiredRoles restricts the guard to the given roles.
func WithRequiredRoles(roles ...Role) GuardOption {
	return func(g *RouteGuard) {
		g.RequiredRoles = append(g.RequiredRoles, roles...)
	}
}

// WithOptionalAuth lets anonymous visitors through.
func WithOptionalAuth() GuardOption {
	return func(g *RouteGuard) {
		g.RequireAuth = false
	}
}

// WithFallbackPath sets where anonymous visitors are sent.
func WithFallbackPath(path string) GuardOption {
	return func(g *RouteGuard) {
		if path != "" {
			g.FallbackPath = path
		}
	}
}

// WithAuthenticatedLanding sets where signed in users lacking a required
// role are sent.
func WithAuthenticatedLanding(path string) GuardOption {
	return func(g *RouteGuard) {
		if path != "" {
			g.AuthenticatedLanding = path
		}
	}
}

// NewRouteGuard returns a guard that requires authentication.
func NewRouteGuard(opts ...GuardOption) RouteGuard {
	g := RouteGuard{
		RequireAuth:          true,
		FallbackPath:         DefaultLoginPath,
		AuthenticatedLanding: DefaultAuthenticatedLanding,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&g)
		}
	}
	return g
}

// Evaluate applies the guard rules in order: loading, authentication,
// roles.
func (g RouteGuard) Evaluate(s Snapshot) GuardDecision {
	if s.Loading || s.Phase == PhaseLoading || s.Phase == PhaseUninitialized {
		return GuardDecision{Outcome: GuardPending}
	}

	if g.RequireAuth && s.User == nil {
		return GuardDecision{Outcome: GuardRedirect, RedirectTo: g.fallback()}
	}

	if len(g.RequiredRoles) > 0 {
		role, ok := s.Role()
		if !ok || !g.allows(role) {
			return GuardDecision{Outcome: GuardRedirect, RedirectTo: g.landing()}
		}
	}

	return GuardDecision{Outcome: GuardRender}
}

func (g RouteGuard) allows(role Role) bool {
	for _, r := range g.RequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (g RouteGuard) fallback() string {
	if g.FallbackPath == "" {
		return DefaultLoginPath
	}
	return g.FallbackPath
}

func (g RouteGuard) landing() string {
	if g.AuthenticatedLanding == "" {
		return DefaultAuthenticatedLanding
	}
	return g.AuthenticatedLanding
}
