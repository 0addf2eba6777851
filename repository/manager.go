package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Manager exposes the session subsystem repositories.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() *ProfileRepository
	SecurityEvents() SecurityEvents
	Migrate(ctx context.Context) error
}

type mngr struct {
	db             *bun.DB
	profiles       *ProfileRepository
	securityEvents SecurityEvents
}

func NewRepositoryManager(db *bun.DB) Manager {
	return &mngr{
		db:             db,
		profiles:       NewProfileRepository(db),
		securityEvents: NewSecurityEventsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.securityEvents == nil {
		return errors.New("repository securityEvents should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() *ProfileRepository {
	return m.profiles
}

func (m mngr) SecurityEvents() SecurityEvents {
	return m.securityEvents
}

// Migrate applies the pending embedded migrations.
func (m mngr) Migrate(ctx context.Context) error {
	return Migrate(ctx, m.db)
}

// Migrations discovers the embedded SQL migrations.
func Migrations() (*migrate.Migrations, error) {
	sub, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, err
	}
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, err
	}
	return migrations, nil
}

// Migrate initializes the migration tables and applies pending migrations
// under the migration lock. Running it twice is a no-op.
func Migrate(ctx context.Context, db *bun.DB) error {
	migrations, err := Migrations()
	if err != nil {
		return fmt.Errorf("failed to discover migrations: %w", err)
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.Printf("failed to release migration lock: %v", err)
		}
	}()

	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
