// Package gateadapter exposes the session state to go-featuregate.
package gateadapter

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-featuregate/gate"
)

const defaultActorRefType = "user"

// RoleMapper builds role identifiers from a snapshot.
type RoleMapper func(s auth.Snapshot) []string

// PermMapper builds permission identifiers from a snapshot.
type PermMapper func(s auth.Snapshot) []string

// Option customizes ClaimsProvider behavior.
type Option func(*ClaimsProvider)

// ClaimsProvider derives feature claims from the session manager state.
type ClaimsProvider struct {
	source     auth.SnapshotSource
	host       auth.AuthHost
	roleMapper RoleMapper
	permMapper PermMapper
}

// NewClaimsProvider builds a claims provider reading source.
func NewClaimsProvider(source auth.SnapshotSource, opts ...Option) *ClaimsProvider {
	provider := &ClaimsProvider{source: source}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.roleMapper == nil {
		provider.roleMapper = defaultRoleMapper
	}
	if provider.permMapper == nil {
		provider.permMapper = defaultPermMapper
	}
	return provider
}

// WithHost adds the host namespace as tenant.
func WithHost(host auth.AuthHost) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.host = host
	}
}

// WithRoleMapper overrides the default role mapper.
func WithRoleMapper(mapper RoleMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.roleMapper = mapper
	}
}

// WithPermMapper overrides the default permission mapper.
func WithPermMapper(mapper PermMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.permMapper = mapper
	}
}

// ClaimsFromContext implements gate.ClaimsProvider.
func (p *ClaimsProvider) ClaimsFromContext(ctx context.Context) (gate.ActorClaims, error) {
	if p == nil {
		return gate.ActorClaims{}, nil
	}
	snap, ok := auth.SnapshotFromContext(ctx)
	if !ok {
		if p.source == nil {
			return gate.ActorClaims{}, nil
		}
		snap = p.source.Snapshot()
	}
	if snap.User == nil {
		return gate.ActorClaims{}, nil
	}
	claims := ClaimsFromSnapshot(snap, p.roleMapper, p.permMapper)
	if p.host != nil {
		claims.TenantID = p.host.Identity().Namespace
	}
	return claims, nil
}

// ClaimsFromSnapshot builds ActorClaims from a snapshot. Nil mappers fall
// back to the defaults.
func ClaimsFromSnapshot(s auth.Snapshot, roleMapper RoleMapper, permMapper PermMapper) gate.ActorClaims {
	if s.User == nil {
		return gate.ActorClaims{}
	}
	if roleMapper == nil {
		roleMapper = defaultRoleMapper
	}
	if permMapper == nil {
		permMapper = defaultPermMapper
	}
	claims := gate.ActorClaims{
		SubjectID: s.User.ID,
		Roles:     roleMapper(s),
		Perms:     permMapper(s),
	}
	if s.Profile != nil {
		claims.OrgID = s.Profile.Organization
	}
	return claims
}

func defaultRoleMapper(s auth.Snapshot) []string {
	role, ok := s.Role()
	if !ok {
		return nil
	}
	return []string{role.String()}
}

// defaultPermMapper grants "role:<r>" for every role the user's role
// dominates.
func defaultPermMapper(s auth.Snapshot) []string {
	role, ok := s.Role()
	if !ok {
		return nil
	}
	var perms []string
	for _, r := range auth.GetAllRoles() {
		if role.IsAtLeast(r) {
			perms = append(perms, "role:"+r.String())
		}
	}
	return perms
}

// PermissionProvider merges claim permissions with the ones derived from
// the current snapshot.
type PermissionProvider struct {
	source auth.SnapshotSource
}

// NewPermissionProvider builds a permission provider reading source.
func NewPermissionProvider(source auth.SnapshotSource) *PermissionProvider {
	return &PermissionProvider{source: source}
}

// Permissions implements gate.PermissionProvider.
func (p *PermissionProvider) Permissions(ctx context.Context, claims gate.ActorClaims) ([]string, error) {
	if p == nil || p.source == nil {
		return claims.Perms, nil
	}
	return mergePerms(claims.Perms, defaultPermMapper(p.source.Snapshot())), nil
}

func mergePerms(existing, derived []string) []string {
	if len(existing) == 0 && len(derived) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(existing)+len(derived))
	merged := make([]string, 0, len(existing)+len(derived))
	for _, list := range [][]string{existing, derived} {
		for _, perm := range list {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			merged = append(merged, perm)
		}
	}
	return merged
}

// ActorRefFromSnapshot builds an ActorRef from the signed in user.
func ActorRefFromSnapshot(s auth.Snapshot) gate.ActorRef {
	if s.User == nil {
		return gate.ActorRef{}
	}
	role, _ := s.Role()
	return gate.ActorRef{
		ID:   s.User.ID,
		Type: defaultActorRefType,
		Name: role.String(),
	}
}

// StaticGate is a feature gate backed by a fixed map. Unknown keys are
// enabled.
type StaticGate struct {
	mu       sync.RWMutex
	features map[string]bool
}

// NewStaticGate returns a gate with the given feature states.
func NewStaticGate(features map[string]bool) *StaticGate {
	g := &StaticGate{features: map[string]bool{}}
	for k, v := range features {
		g.features[k] = v
	}
	return g
}

// Set toggles a feature.
func (g *StaticGate) Set(key string, enabled bool) {
	g.mu.Lock()
	g.features[key] = enabled
	g.mu.Unlock()
}

// Enabled implements gate.FeatureGate.
func (g *StaticGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	enabled, ok := g.features[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

var (
	_ gate.ClaimsProvider     = (*ClaimsProvider)(nil)
	_ gate.PermissionProvider = (*PermissionProvider)(nil)
	_ gate.FeatureGate        = (*StaticGate)(nil)
)
