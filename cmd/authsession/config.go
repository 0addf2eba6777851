package main

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-auth-session"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-logger/glog"
)

// Persistence configures the SQLite database and the go-persistence-bun
// client that migrates it.
type Persistence struct {
	Debug                 bool   `json:"debug" koanf:"debug"`
	Driver                string `json:"driver" koanf:"driver"`
	Server                string `json:"server" koanf:"server"`
	DSN                   string `json:"dsn" koanf:"dsn"`
	PingTimeoutExpression string `json:"ping_timeout" koanf:"ping_timeout"`
	OtelIdentifier        string `json:"otel_identifier" koanf:"otel_identifier"`
}

func (p Persistence) GetDebug() bool {
	return p.Debug
}

func (p Persistence) GetDriver() string {
	return p.Driver
}

func (p Persistence) GetServer() string {
	return p.Server
}

func (p Persistence) GetDSN() string {
	return p.DSN
}

func (p Persistence) GetOtelIdentifier() string {
	return p.OtelIdentifier
}

func (p Persistence) GetPingTimeout() time.Duration {
	dur, err := time.ParseDuration(p.PingTimeoutExpression)
	if err != nil || dur <= 0 {
		return defaultPingTimeout
	}
	return dur
}

const defaultPingTimeout = 5 * time.Second

// defaultHTTPAddr keeps serve on loopback, every request shares one session.
const defaultHTTPAddr = "127.0.0.1:8572"

type Redis struct {
	Enabled  bool   `json:"enabled" koanf:"enabled"`
	Addr     string `json:"addr" koanf:"addr"`
	Password string `json:"password" koanf:"password"`
	DB       int    `json:"db" koanf:"db"`
}

type HTTP struct {
	Addr string `json:"addr" koanf:"addr"`
}

type Provider struct {
	SigningKey          string        `json:"signing_key" koanf:"signing_key"`
	SessionTTL          time.Duration `json:"session_ttl" koanf:"session_ttl"`
	ProvisionDelay      time.Duration `json:"provision_delay" koanf:"provision_delay"`
	RequireConfirmation bool          `json:"require_confirmation" koanf:"require_confirmation"`
	MaxFailedAttempts   int           `json:"max_failed_attempts" koanf:"max_failed_attempts"`
}

// AppConfig is the command configuration.
type AppConfig struct {
	Session     auth.Options    `json:"session" koanf:"session"`
	Persistence Persistence     `json:"persistence" koanf:"persistence"`
	Redis       Redis           `json:"redis" koanf:"redis"`
	HTTP        HTTP            `json:"http" koanf:"http"`
	Provider    Provider        `json:"provider" koanf:"provider"`
	Features    map[string]bool `json:"features" koanf:"features"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Session: auth.Options{
			ProfileMaxRetries: auth.DefaultProfileMaxRetries,
			ProfileRetryDelay: auth.DefaultProfileRetryDelay,
			HostMode:          auth.HostModeStandalone,
		},
		Persistence: Persistence{
			Driver:                "sqlite",
			DSN:                   "file:authsession.db?cache=shared",
			PingTimeoutExpression: "5s",
		},
		Redis:       Redis{Addr: "localhost:6379"},
		HTTP:        HTTP{Addr: defaultHTTPAddr},
		Provider: Provider{
			SigningKey:     "local-development-signing-key",
			SessionTTL:     time.Hour,
			ProvisionDelay: 300 * time.Millisecond,
		},
	}
}

func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Persistence, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Persistence,
				validation.Field(&c.Persistence.DSN, validation.Required),
			)
		})),
		validation.Field(&c.HTTP, validation.By(func(any) error {
			return validation.ValidateStruct(&c.HTTP,
				validation.Field(&c.HTTP.Addr, validation.Required),
			)
		})),
		validation.Field(&c.Session, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Session,
				validation.Field(&c.Session.HostMode, validation.In(auth.HostModeStandalone, auth.HostModeEmbedded)),
				validation.Field(&c.Session.Namespace, validation.When(c.Session.HostMode == auth.HostModeEmbedded, validation.Required)),
			)
		})),
	)
}

func loadConfig(ctx context.Context, lgr *glog.BaseLogger) (*AppConfig, error) {
	mgr := gconfig.New(defaultConfig()).
		WithLogger(lgr.GetLogger("config"))

	if err := mgr.Load(ctx); err != nil {
		return nil, err
	}

	cfg := mgr.Raw()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
