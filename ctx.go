package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var snapshotCtxKey = &contextKey{"session_snapshot"}

// SnapshotLocalsKey is the router locals key the guard middleware stores
// the evaluated snapshot under.
const SnapshotLocalsKey = "session_snapshot"

type contextKey struct {
	name string
}

// WithSnapshot sets the session snapshot in the given context
func WithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotCtxKey, snap)
}

// SnapshotFromContext finds the session snapshot in the context.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	if ctx == nil {
		return Snapshot{}, false
	}
	snap, ok := ctx.Value(snapshotCtxKey).(Snapshot)
	return snap, ok
}

// SnapshotFromRouter extracts the snapshot stored by GuardMiddleware
func SnapshotFromRouter(ctx router.Context) (Snapshot, bool) {
	raw := ctx.Locals(SnapshotLocalsKey)
	if raw == nil {
		return Snapshot{}, false
	}
	snap, ok := raw.(Snapshot)
	return snap, ok
}

// HasRole is a convenience function to check the profile role directly
// from the standard context.
func HasRole(ctx context.Context, roles ...Role) bool {
	snap, ok := SnapshotFromContext(ctx)
	if !ok {
		return false
	}
	role, ok := snap.Role()
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasRoleAtLeast checks the profile role against the hierarchy
func HasRoleAtLeast(ctx context.Context, minRole Role) bool {
	snap, ok := SnapshotFromContext(ctx)
	if !ok {
		return false
	}
	role, ok := snap.Role()
	return ok && role.IsAtLeast(minRole)
}
