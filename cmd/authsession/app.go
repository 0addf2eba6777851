package main

import (
	"context"
	"database/sql"
	"io/fs"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/activitymap"
	gateadapter "github.com/goliatone/go-auth-session/adapters/featuregate"
	"github.com/goliatone/go-auth-session/notify/redisnotify"
	"github.com/goliatone/go-auth-session/provider/local"
	"github.com/goliatone/go-auth-session/repository"
)

// App holds the wired command dependencies.
type App struct {
	cfg      *AppConfig
	lgr      *glog.BaseLogger
	db       *bun.DB
	repo     repository.Manager
	provider *local.Provider
	redis    *goredis.Client
	notifier *redisnotify.Notifier
	gate     *gateadapter.StaticGate
	session  *auth.Composition
}

func newLogger(verbose bool) *glog.BaseLogger {
	if verbose {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("authsession"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("authsession"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

// GetLogger returns a named logger.
func (a *App) GetLogger(name string) glog.Logger {
	return a.lgr.GetLogger(name)
}

func newApp(ctx context.Context, lgr *glog.BaseLogger) (*App, error) {
	cfg, err := loadConfig(ctx, lgr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to load configuration")
	}

	app := &App{cfg: cfg, lgr: lgr}

	if err := app.setupDatabase(ctx); err != nil {
		return nil, err
	}

	app.setupNotifier(ctx)

	publisher := local.Publisher(nil)
	if app.notifier != nil {
		publisher = app.notifier
	}

	app.provider = local.New(
		local.WithSigningKey(cfg.Provider.SigningKey),
		local.WithSessionTTL(cfg.Provider.SessionTTL),
		local.WithEmailConfirmation(cfg.Provider.RequireConfirmation),
		local.WithMaxFailedAttempts(cfg.Provider.MaxFailedAttempts),
		local.WithProvisioning(app.repo.Profiles(), cfg.Provider.ProvisionDelay),
		local.WithPublisher(publisher),
		local.WithLogger(app.GetLogger("provider")),
	)

	app.gate = gateadapter.NewStaticGate(cfg.Features)

	auditLog := app.GetLogger("audit")
	sink := activitymap.NewSink(
		app.repo.SecurityEvents(),
		func(ctx context.Context, record activitymap.Normalized) error {
			auditLog.Info("security event",
				"actor", record.ActorID,
				"verb", record.Verb,
				"object", record.ObjectID,
				"success", record.Metadata[activitymap.MetadataKeySuccess],
			)
			return nil
		},
	)

	deps := auth.Dependencies{
		Service:     app.provider,
		Profiles:    app.repo.Profiles(),
		AuditSink:   sink,
		FeatureGate: app.gate,
		Logger:      app.GetLogger("session"),
	}
	if app.notifier != nil {
		deps.Notifier = app.notifier
	}

	app.session, err = auth.Compose(cfg.Session, deps)
	if err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, a.cfg.Persistence.GetDSN())
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}
	sqldb.SetMaxOpenConns(1)

	persistence.RegisterModel((*auth.Profile)(nil))
	persistence.RegisterModel((*auth.SecurityEvent)(nil))

	client, err := persistence.New(a.cfg.Persistence, sqldb, sqlitedialect.New())
	if err != nil {
		_ = sqldb.Close()
		return errors.Wrap(err, errors.CategoryInternal, "failed to create persistence client")
	}
	client.SetLogger(a.GetLogger("persistence"))
	a.db = client.DB()

	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open migrations")
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "invalid migrations")
	}
	if err := client.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}
	if report := client.Report(); report != nil && !report.IsZero() {
		a.GetLogger("persistence").Info("migrations applied", "report", report.String())
	}

	a.repo = repository.NewRepositoryManager(a.db)
	return a.repo.Validate()
}

func (a *App) setupNotifier(ctx context.Context) {
	if !a.cfg.Redis.Enabled {
		return
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.GetLogger("redis").Warn("redis unavailable, profile sync falls back to polling", "addr", a.cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return
	}

	a.redis = client
	a.notifier = redisnotify.New(client, redisnotify.WithLogger(a.GetLogger("notify")))
}

// Manager returns the session manager.
func (a *App) Manager() *auth.Manager {
	return a.session.Manager
}

// Close releases every resource held by the app.
func (a *App) Close() {
	if a.session != nil {
		a.session.Manager.Dispose()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
