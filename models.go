package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Session is the cached copy of the credential bundle issued by the
// AuthService. The manager never mutates it.
type Session struct {
	AccessToken  string             `json:"access_token,omitempty"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time          `json:"expires_at"`
	User         *AuthenticatedUser `json:"user,omitempty"`
}

// Expired reports whether the session expiry is in the past.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// AuthenticatedUser is the identity attached to a valid session. The role
// stored in Metadata is a sign up hint, never authoritative.
type AuthenticatedUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// MetadataRole returns the raw role hint found in the signup metadata.
func (u *AuthenticatedUser) MetadataRole() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	if role, ok := u.Metadata["role"].(string); ok {
		return role
	}
	return ""
}

// Profile is the authoritative record of a user's role and personal
// attributes. It is created by a backend trigger after sign up.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	UserID        string     `bun:"user_id,pk" json:"user_id"`
	Role          Role       `bun:"role,notnull" json:"role"`
	FirstName     string     `bun:"first_name" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name" json:"last_name,omitempty"`
	Email         string     `bun:"email" json:"email,omitempty"`
	Country       string     `bun:"country" json:"country,omitempty"`
	Organization  string     `bun:"organization" json:"organization,omitempty"`
	AvatarURL     string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Clone returns a shallow copy, nil safe.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfileUpdate is a partial profile update. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	Country      *string `json:"country,omitempty"`
	Organization *string `json:"organization,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
}

// IsEmpty reports whether the update carries no field.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil &&
		u.LastName == nil &&
		u.Country == nil &&
		u.Organization == nil &&
		u.AvatarURL == nil
}

// Columns lists the profile columns touched by the update.
func (u ProfileUpdate) Columns() []string {
	cols := []string{}
	if u.FirstName != nil {
		cols = append(cols, "first_name")
	}
	if u.LastName != nil {
		cols = append(cols, "last_name")
	}
	if u.Country != nil {
		cols = append(cols, "country")
	}
	if u.Organization != nil {
		cols = append(cols, "organization")
	}
	if u.AvatarURL != nil {
		cols = append(cols, "avatar_url")
	}
	return cols
}

// Merge returns a copy of the profile with the update applied field by field.
func (p *Profile) Merge(u ProfileUpdate) *Profile {
	if p == nil {
		return nil
	}
	out := p.Clone()
	if u.FirstName != nil {
		out.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		out.LastName = *u.LastName
	}
	if u.Country != nil {
		out.Country = *u.Country
	}
	if u.Organization != nil {
		out.Organization = *u.Organization
	}
	if u.AvatarURL != nil {
		out.AvatarURL = *u.AvatarURL
	}
	return out
}

// SecurityEvent is an append only audit record.
type SecurityEvent struct {
	bun.BaseModel `bun:"table:security_events,alias:sev"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	UserID        string         `bun:"user_id" json:"user_id,omitempty"`
	ActionType    AuditAction    `bun:"action_type,notnull" json:"action_type"`
	Details       map[string]any `bun:"details,type:jsonb" json:"details,omitempty"`
	Success       bool           `bun:"success" json:"success"`
	Timestamp     time.Time      `bun:"created_at,notnull" json:"timestamp"`
}
