package auth

// RoleSource identifies which link of the fallback chain produced a role.
type RoleSource string

const (
	RoleSourceProfile  RoleSource = "profile"
	RoleSourceMetadata RoleSource = "metadata"
	RoleSourceCached   RoleSource = "cached"
	RoleSourceDefault  RoleSource = "default"
)

// RoleResolutionContext gathers the candidate roles of a single redirect
// computation. Values are raw strings as received and are canonicalized by
// the resolver.
type RoleResolutionContext struct {
	PolledRole   string
	MetadataRole string
	CachedRole   string
}

// RoleResolution is the outcome of a resolution.
type RoleResolution struct {
	Role   Role
	Source RoleSource
	Path   string
}

// LandingPaths maps roles to the path a user lands on after sign in.
type LandingPaths map[Role]string

// DefaultLandingPaths sends editor and above to the admin area.
func DefaultLandingPaths() LandingPaths {
	return LandingPaths{
		RoleSuperAdmin:   "/admin",
		RoleCountryAdmin: "/admin",
		RoleEditor:       "/admin",
		RoleContributor:  "/contributor",
		RoleReader:       "/",
	}
}

// RoleResolver produces one authoritative role from the fallback chain:
// polled profile role, then response metadata role, then cached role, then
// the static default. The first candidate that canonicalizes wins.
type RoleResolver struct {
	canonicalizer RoleCanonicalizer
	paths         LandingPaths
	defaultRole   Role
	fallbackPath  string
}

// RoleResolverOption customizes the resolver.
type RoleResolverOption func(*RoleResolver)

// WithLandingPaths overrides landing paths, missing roles keep defaults.
func WithLandingPaths(paths LandingPaths) RoleResolverOption {
	return func(r *RoleResolver) {
		for role, path := range paths {
			if role.IsValid() && path != "" {
				r.paths[role] = path
			}
		}
	}
}

// WithRoleAliases registers extra vocabulary aliases.
func WithRoleAliases(aliases map[string]Role) RoleResolverOption {
	return func(r *RoleResolver) {
		r.canonicalizer = NewRoleCanonicalizer(aliases)
	}
}

// WithDefaultRole overrides the static default role.
func WithDefaultRole(role Role) RoleResolverOption {
	return func(r *RoleResolver) {
		if role.IsValid() {
			r.defaultRole = role
		}
	}
}

// NewRoleResolver returns a resolver with the default landing paths.
func NewRoleResolver(opts ...RoleResolverOption) *RoleResolver {
	r := &RoleResolver{
		canonicalizer: NewRoleCanonicalizer(nil),
		paths:         DefaultLandingPaths(),
		defaultRole:   DefaultRole,
		fallbackPath:  "/",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Canonical canonicalizes a raw role string.
func (r *RoleResolver) Canonical(raw string) (Role, bool) {
	return r.canonicalizer.Canonical(raw)
}

// DefaultRole returns the lowest privilege fallback role.
func (r *RoleResolver) DefaultRole() Role {
	return r.defaultRole
}

// Resolve walks the chain. The polled role always wins when present since
// it mirrors the backend record.
func (r *RoleResolver) Resolve(rc RoleResolutionContext) RoleResolution {
	candidates := []struct {
		raw    string
		source RoleSource
	}{
		{rc.PolledRole, RoleSourceProfile},
		{rc.MetadataRole, RoleSourceMetadata},
		{rc.CachedRole, RoleSourceCached},
	}

	for _, c := range candidates {
		if role, ok := r.canonicalizer.Canonical(c.raw); ok {
			return RoleResolution{Role: role, Source: c.source, Path: r.LandingPath(role)}
		}
	}

	return RoleResolution{
		Role:   r.defaultRole,
		Source: RoleSourceDefault,
		Path:   r.LandingPath(r.defaultRole),
	}
}

// LandingPath is a pure lookup of the role landing path.
func (r *RoleResolver) LandingPath(role Role) string {
	if path, ok := r.paths[role]; ok && path != "" {
		return path
	}
	if path, ok := r.paths[r.defaultRole]; ok && path != "" {
		return path
	}
	return r.fallbackPath
}
