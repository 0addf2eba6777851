package local

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
)

// MemoryProfiles is an in-memory profile store that doubles as the
// provisioner of the local provider.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]*auth.Profile
	reads    map[string]int
	now      func() time.Time
}

var (
	_ auth.ProfileStore = (*MemoryProfiles)(nil)
	_ Provisioner       = (*MemoryProfiles)(nil)
)

// NewMemoryProfiles returns an empty store.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{
		profiles: map[string]*auth.Profile{},
		reads:    map[string]int{},
		now:      time.Now,
	}
}

func (m *MemoryProfiles) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[userID]++
	p, ok := m.profiles[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryProfiles) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	merged := p.Merge(update)
	now := m.now().UTC()
	merged.UpdatedAt = &now
	m.profiles[userID] = merged
	return merged.Clone(), nil
}

func (m *MemoryProfiles) Provision(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	out := profile.Clone()
	if out.Role == "" {
		out.Role = auth.DefaultRole
	}
	now := m.now().UTC()
	out.CreatedAt = &now
	out.UpdatedAt = &now

	m.mu.Lock()
	m.profiles[out.UserID] = out
	m.mu.Unlock()
	return out.Clone(), nil
}

// Reads returns how many times the profile of userID was queried.
func (m *MemoryProfiles) Reads(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[userID]
}
