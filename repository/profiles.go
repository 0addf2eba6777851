package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ProfileRepository implements auth.ProfileStore using Bun.
type ProfileRepository struct {
	db *bun.DB
}

var _ auth.ProfileStore = (*ProfileRepository)(nil)

// NewProfileRepository creates a new repository.
func NewProfileRepository(db *bun.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile implements auth.ProfileStore. A missing row returns
// auth.ErrProfileNotFound.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	return r.GetProfileTx(ctx, r.db, userID)
}

func (r *ProfileRepository) GetProfileTx(ctx context.Context, tx bun.IDB, userID string) (*auth.Profile, error) {
	record := &auth.Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, err
	}
	return record, nil
}

// UpdateProfile implements auth.ProfileStore. Only the columns carried by
// the update are written.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.Profile, error) {
	var out *auth.Profile
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.GetProfileTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if update.IsEmpty() {
			out = current
			return nil
		}

		merged := current.Merge(update)
		now := time.Now().UTC()
		merged.UpdatedAt = &now

		_, err = tx.NewUpdate().
			Model(merged).
			Column(append(update.Columns(), "updated_at")...).
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Provision inserts the profile row, or updates role and attributes when
// it already exists. It plays the part of the backend trigger that
// creates profiles after sign up.
func (r *ProfileRepository) Provision(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	if profile == nil {
		return nil, errors.New("profile should not be nil")
	}
	if profile.Role == "" {
		profile.Role = auth.DefaultRole
	}
	now := time.Now().UTC()
	if profile.CreatedAt == nil {
		profile.CreatedAt = &now
	}
	profile.UpdatedAt = &now

	_, err := r.db.NewInsert().
		Model(profile).
		On("CONFLICT (user_id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("email = EXCLUDED.email").
		Set("country = EXCLUDED.country").
		Set("organization = EXCLUDED.organization").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Delete removes the profile row.
func (r *ProfileRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.NewDelete().
		Model((*auth.Profile)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
