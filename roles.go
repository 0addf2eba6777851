package auth

import "strings"

// Role is the canonical profile role.
type Role string

const (
	// RoleSuperAdmin administers every country and user
	RoleSuperAdmin Role = "super_admin"
	// RoleCountryAdmin administers a single country
	RoleCountryAdmin Role = "admin_pays"
	// RoleEditor publishes and edits content
	RoleEditor Role = "editeur"
	// RoleContributor submits content for review
	RoleContributor Role = "contributeur"
	// RoleReader can only read, lowest privilege
	RoleReader Role = "lecteur"
)

// DefaultRole is the lowest privilege role, used when nothing else resolves.
const DefaultRole = RoleReader

var roleHierarchy = map[Role]int{
	RoleReader:       0,
	RoleContributor:  1,
	RoleEditor:       2,
	RoleCountryAdmin: 3,
	RoleSuperAdmin:   4,
}

// defaultRoleAliases maps the second vocabulary found in existing profile
// rows and signup metadata onto the canonical one. focal_point has no
// canonical equivalent and is left unmapped.
var defaultRoleAliases = map[string]Role{
	"country_admin": RoleCountryAdmin,
	"editor":        RoleEditor,
	"reader":        RoleReader,
}

// IsValid checks if the role is one of the canonical roles
func (r Role) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// String implements fmt.Stringer
func (r Role) String() string {
	return string(r)
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// CanAdminister reports whether the role reaches the editor/admin tier.
func (r Role) CanAdminister() bool {
	return r.IsAtLeast(RoleEditor)
}

// GetAllRoles returns all canonical roles from lowest to highest privilege
func GetAllRoles() []Role {
	return []Role{
		RoleReader,
		RoleContributor,
		RoleEditor,
		RoleCountryAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a canonical role string
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.TrimSpace(roleStr))
	return role, role.IsValid()
}

// RoleCanonicalizer maps raw role strings coming from profile rows or
// account metadata onto the canonical enumeration.
type RoleCanonicalizer struct {
	aliases map[string]Role
}

// NewRoleCanonicalizer returns a canonicalizer with the default alias table
// extended by extra. Aliases pointing to non canonical roles are ignored.
func NewRoleCanonicalizer(extra map[string]Role) RoleCanonicalizer {
	aliases := make(map[string]Role, len(defaultRoleAliases)+len(extra))
	for k, v := range defaultRoleAliases {
		aliases[k] = v
	}
	for k, v := range extra {
		if !v.IsValid() {
			continue
		}
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return RoleCanonicalizer{aliases: aliases}
}

// Canonical returns the canonical role for raw, or false when raw is empty
// or belongs to neither vocabulary.
func (c RoleCanonicalizer) Canonical(raw string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if role, ok := ParseRole(key); ok {
		return role, true
	}
	aliases := c.aliases
	if aliases == nil {
		aliases = defaultRoleAliases
	}
	role, ok := aliases[key]
	return role, ok
}
