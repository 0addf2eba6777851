package auth

import (
	"net/url"
	"path"
	"strings"
)

// HostIdentity is the identity the hosting container assigns to the
// current user, if any.
type HostIdentity struct {
	Namespace string
	UserID    string
}

// AuthHost adapts the session subsystem to where it runs: either as its own
// application or embedded in a portal container under a namespace.
type AuthHost interface {
	Mode() HostMode
	// Path turns an application path into a host path.
	Path(p string) string
	// URL turns an application path into an absolute URL, used for links
	// sent by email.
	URL(p string) string
	// DecorateAudit adds host correlation fields to audit details.
	DecorateAudit(details map[string]any) map[string]any
	Identity() HostIdentity
}

// StandaloneHost owns its router, paths are root relative.
type StandaloneHost struct {
	BaseURL string
}

var _ AuthHost = StandaloneHost{}

// NewStandaloneHost returns a host serving from baseURL.
func NewStandaloneHost(baseURL string) StandaloneHost {
	return StandaloneHost{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (h StandaloneHost) Mode() HostMode {
	return HostModeStandalone
}

func (h StandaloneHost) Path(p string) string {
	return cleanPath(p)
}

func (h StandaloneHost) URL(p string) string {
	return joinURL(h.BaseURL, h.Path(p))
}

func (h StandaloneHost) DecorateAudit(details map[string]any) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	details["host_mode"] = string(HostModeStandalone)
	return details
}

func (h StandaloneHost) Identity() HostIdentity {
	return HostIdentity{}
}

// EmbeddedHost runs inside a portal container. Paths are prefixed with the
// namespace and the container supplied user id is correlated into audit
// events.
type EmbeddedHost struct {
	BaseURL   string
	Namespace string
	// ExternalUserID returns the id the container assigned to the current
	// user. It may return an empty string for anonymous visitors.
	ExternalUserID func() string
}

var _ AuthHost = EmbeddedHost{}

// NewEmbeddedHost returns a host for the given namespace.
func NewEmbeddedHost(baseURL, namespace string, externalUserID func() string) EmbeddedHost {
	return EmbeddedHost{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Namespace:      strings.Trim(namespace, "/ "),
		ExternalUserID: externalUserID,
	}
}

func (h EmbeddedHost) Mode() HostMode {
	return HostModeEmbedded
}

func (h EmbeddedHost) Path(p string) string {
	p = cleanPath(p)
	if h.Namespace == "" {
		return p
	}
	prefix := "/" + h.Namespace
	if p == prefix || strings.HasPrefix(p, prefix+"/") {
		return p
	}
	if p == "/" {
		return prefix
	}
	return prefix + p
}

func (h EmbeddedHost) URL(p string) string {
	return joinURL(h.BaseURL, h.Path(p))
}

func (h EmbeddedHost) DecorateAudit(details map[string]any) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	details["host_mode"] = string(HostModeEmbedded)
	details["host_namespace"] = h.Namespace
	if id := h.Identity().UserID; id != "" {
		details["host_user_id"] = id
	}
	return details
}

func (h EmbeddedHost) Identity() HostIdentity {
	id := HostIdentity{Namespace: h.Namespace}
	if h.ExternalUserID != nil {
		id.UserID = h.ExternalUserID()
	}
	return id
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func joinURL(base, p string) string {
	if base == "" {
		return p
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + p
	}
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u.String()
}
