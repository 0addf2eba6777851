package auth_test

import (
	"net/http"
	"testing"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readerSnapshot() auth.Snapshot {
	user := &auth.AuthenticatedUser{ID: "u1", Email: "reader@example.org"}
	return auth.Snapshot{
		Phase:   auth.PhaseAuthenticated,
		User:    user,
		Profile: &auth.Profile{UserID: "u1", Role: auth.RoleReader},
	}
}

func TestRouteGuard_Evaluate(t *testing.T) {
	anonymous := auth.Snapshot{Phase: auth.PhaseUnauthenticated}
	loading := auth.Snapshot{Phase: auth.PhaseLoading, Loading: true}
	noProfile := auth.Snapshot{
		Phase: auth.PhaseAuthenticatedNoProfile,
		User:  &auth.AuthenticatedUser{ID: "u2"},
	}

	tests := []struct {
		name     string
		guard    auth.RouteGuard
		snapshot auth.Snapshot
		outcome  auth.GuardOutcome
		redirect string
	}{
		{
			name:     "loading is pending",
			guard:    auth.NewRouteGuard(),
			snapshot: loading,
			outcome:  auth.GuardPending,
		},
		{
			name:     "uninitialized is pending",
			guard:    auth.NewRouteGuard(),
			snapshot: auth.Snapshot{Phase: auth.PhaseUninitialized},
			outcome:  auth.GuardPending,
		},
		{
			name:     "anonymous goes to fallback",
			guard:    auth.NewRouteGuard(auth.WithFallbackPath("/connexion")),
			snapshot: anonymous,
			outcome:  auth.GuardRedirect,
			redirect: "/connexion",
		},
		{
			name:     "anonymous allowed with optional auth",
			guard:    auth.NewRouteGuard(auth.WithOptionalAuth()),
			snapshot: anonymous,
			outcome:  auth.GuardRender,
		},
		{
			name:     "reader lacking super admin goes to landing",
			guard:    auth.NewRouteGuard(auth.WithRequiredRoles(auth.RoleSuperAdmin)),
			snapshot: readerSnapshot(),
			outcome:  auth.GuardRedirect,
			redirect: auth.DefaultAuthenticatedLanding,
		},
		{
			name:     "missing profile fails role check",
			guard:    auth.NewRouteGuard(auth.WithRequiredRoles(auth.RoleReader)),
			snapshot: noProfile,
			outcome:  auth.GuardRedirect,
			redirect: auth.DefaultAuthenticatedLanding,
		},
		{
			name:     "required role present renders",
			guard:    auth.NewRouteGuard(auth.WithRequiredRoles(auth.RoleEditor, auth.RoleReader)),
			snapshot: readerSnapshot(),
			outcome:  auth.GuardRender,
		},
		{
			name:     "authenticated without role requirement renders",
			guard:    auth.NewRouteGuard(),
			snapshot: noProfile,
			outcome:  auth.GuardRender,
		},
		{
			name: "custom landing",
			guard: auth.NewRouteGuard(
				auth.WithRequiredRoles(auth.RoleSuperAdmin),
				auth.WithAuthenticatedLanding("/accueil"),
			),
			snapshot: readerSnapshot(),
			outcome:  auth.GuardRedirect,
			redirect: "/accueil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.guard.Evaluate(tt.snapshot)
			assert.Equal(t, tt.outcome, got.Outcome, got.Outcome.String())
			assert.Equal(t, tt.redirect, got.RedirectTo)
		})
	}
}

func TestGuardOutcome_String(t *testing.T) {
	assert.Equal(t, "pending", auth.GuardPending.String())
	assert.Equal(t, "redirect", auth.GuardRedirect.String())
	assert.Equal(t, "render", auth.GuardRender.String())
	assert.Equal(t, "unknown", auth.GuardOutcome(42).String())
}

func TestGuardMiddleware(t *testing.T) {
	rendered := func(ctx router.Context) error {
		return ctx.Status(http.StatusOK).SendString("page")
	}

	t.Run("pending sends placeholder", func(t *testing.T) {
		source := snapshotSource{snap: auth.Snapshot{Phase: auth.PhaseLoading, Loading: true}}
		handler := auth.GuardMiddleware(source, nil, auth.NewRouteGuard())(rendered)

		ctx := newStubContext()
		require.NoError(t, handler(ctx))

		assert.Equal(t, http.StatusAccepted, ctx.status)
		assert.Equal(t, auth.PendingPlaceholder, ctx.body)
		assert.Equal(t, "1", ctx.headers["Retry-After"])
	})

	t.Run("redirect goes through host", func(t *testing.T) {
		source := snapshotSource{snap: auth.Snapshot{Phase: auth.PhaseUnauthenticated}}
		host := auth.NewEmbeddedHost("", "ong", nil)
		handler := auth.GuardMiddleware(source, host, auth.NewRouteGuard())(rendered)

		ctx := newStubContext()
		require.NoError(t, handler(ctx))

		assert.Equal(t, "/ong/login", ctx.redirectTo)
		assert.Equal(t, http.StatusSeeOther, ctx.redirectCode)
		assert.Empty(t, ctx.body)
	})

	t.Run("render calls next", func(t *testing.T) {
		source := snapshotSource{snap: readerSnapshot()}
		handler := auth.GuardMiddleware(source, nil, auth.NewRouteGuard(auth.WithRequiredRoles(auth.RoleReader)))(rendered)

		ctx := newStubContext()
		require.NoError(t, handler(ctx))

		assert.Equal(t, http.StatusOK, ctx.status)
		assert.Equal(t, "page", ctx.body)
		assert.Empty(t, ctx.redirectTo)

		snap, ok := auth.SnapshotFromRouter(ctx)
		require.True(t, ok)
		assert.Equal(t, "u1", snap.UserID())

		assert.True(t, auth.HasRole(ctx.Context(), auth.RoleReader))
		assert.False(t, auth.HasRoleAtLeast(ctx.Context(), auth.RoleEditor))
	})

	t.Run("pending does not expose snapshot", func(t *testing.T) {
		source := snapshotSource{snap: auth.Snapshot{Phase: auth.PhaseLoading, Loading: true}}
		handler := auth.GuardMiddleware(source, nil, auth.NewRouteGuard())(rendered)

		ctx := newStubContext()
		require.NoError(t, handler(ctx))

		_, ok := auth.SnapshotFromRouter(ctx)
		assert.False(t, ok)
	})
}
