package auth

import "time"

// HostMode selects which AuthHost implementation Compose builds.
type HostMode string

const (
	HostModeStandalone HostMode = "standalone"
	HostModeEmbedded   HostMode = "embedded"
)

// Config holds session manager options
type Config interface {
	GetProfileMaxRetries() int
	GetProfileRetryDelay() time.Duration
	GetProfileFetchTimeout() time.Duration
	GetAuditBufferSize() int
	GetAuditDrainTimeout() time.Duration
	GetHostMode() HostMode
	GetNamespace() string
	GetBaseURL() string
	GetLoginPath() string
	GetPasswordResetPath() string
	GetAuthenticatedLanding() string
	GetLandingPaths() map[string]string
	GetRoleAliases() map[string]string
	GetRoleCacheSize() int
}

const (
	DefaultProfileMaxRetries    = 10
	DefaultProfileRetryDelay    = 100 * time.Millisecond
	DefaultProfileFetchTimeout  = 10 * time.Second
	DefaultAuditDrainTimeout    = 2 * time.Second
	DefaultLoginPath            = "/login"
	DefaultPasswordResetPath    = "/reset-password"
	DefaultAuthenticatedLanding = "/dashboard"
	DefaultRoleCacheSize        = 256
)

// Options is the default Config implementation. Zero values fall back to
// the package defaults.
type Options struct {
	ProfileMaxRetries    int               `json:"profile_max_retries" koanf:"profile_max_retries"`
	ProfileRetryDelay    time.Duration     `json:"profile_retry_delay" koanf:"profile_retry_delay"`
	ProfileFetchTimeout  time.Duration     `json:"profile_fetch_timeout" koanf:"profile_fetch_timeout"`
	AuditBufferSize      int               `json:"audit_buffer_size" koanf:"audit_buffer_size"`
	AuditDrainTimeout    time.Duration     `json:"audit_drain_timeout" koanf:"audit_drain_timeout"`
	HostMode             HostMode          `json:"host_mode" koanf:"host_mode"`
	Namespace            string            `json:"namespace" koanf:"namespace"`
	BaseURL              string            `json:"base_url" koanf:"base_url"`
	LoginPath            string            `json:"login_path" koanf:"login_path"`
	PasswordResetPath    string            `json:"password_reset_path" koanf:"password_reset_path"`
	AuthenticatedLanding string            `json:"authenticated_landing" koanf:"authenticated_landing"`
	LandingPaths         map[string]string `json:"landing_paths" koanf:"landing_paths"`
	RoleAliases          map[string]string `json:"role_aliases" koanf:"role_aliases"`
	RoleCacheSize        int               `json:"role_cache_size" koanf:"role_cache_size"`
}

var _ Config = Options{}

func (o Options) GetProfileMaxRetries() int {
	if o.ProfileMaxRetries <= 0 {
		return DefaultProfileMaxRetries
	}
	return o.ProfileMaxRetries
}

func (o Options) GetProfileRetryDelay() time.Duration {
	if o.ProfileRetryDelay <= 0 {
		return DefaultProfileRetryDelay
	}
	return o.ProfileRetryDelay
}

func (o Options) GetProfileFetchTimeout() time.Duration {
	if o.ProfileFetchTimeout <= 0 {
		return DefaultProfileFetchTimeout
	}
	return o.ProfileFetchTimeout
}

func (o Options) GetAuditBufferSize() int {
	if o.AuditBufferSize <= 0 {
		return defaultAuditBuffer
	}
	return o.AuditBufferSize
}

func (o Options) GetAuditDrainTimeout() time.Duration {
	if o.AuditDrainTimeout <= 0 {
		return DefaultAuditDrainTimeout
	}
	return o.AuditDrainTimeout
}

func (o Options) GetHostMode() HostMode {
	if o.HostMode == "" {
		return HostModeStandalone
	}
	return o.HostMode
}

func (o Options) GetNamespace() string {
	return o.Namespace
}

func (o Options) GetBaseURL() string {
	return o.BaseURL
}

func (o Options) GetLoginPath() string {
	if o.LoginPath == "" {
		return DefaultLoginPath
	}
	return o.LoginPath
}

func (o Options) GetPasswordResetPath() string {
	if o.PasswordResetPath == "" {
		return DefaultPasswordResetPath
	}
	return o.PasswordResetPath
}

func (o Options) GetAuthenticatedLanding() string {
	if o.AuthenticatedLanding == "" {
		return DefaultAuthenticatedLanding
	}
	return o.AuthenticatedLanding
}

func (o Options) GetLandingPaths() map[string]string {
	return o.LandingPaths
}

func (o Options) GetRoleAliases() map[string]string {
	return o.RoleAliases
}

func (o Options) GetRoleCacheSize() int {
	if o.RoleCacheSize <= 0 {
		return DefaultRoleCacheSize
	}
	return o.RoleCacheSize
}

func roleAliasesFromConfig(cfg Config) map[string]Role {
	raw := cfg.GetRoleAliases()
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]Role, len(raw))
	for alias, role := range raw {
		out[alias] = Role(role)
	}
	return out
}
