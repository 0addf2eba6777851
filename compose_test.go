package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_RequiresService(t *testing.T) {
	_, err := auth.Compose(auth.Options{}, auth.Dependencies{})
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, "AUTH_SERVICE_REQUIRED"))
}

func TestNewHost(t *testing.T) {
	host, err := auth.NewHost(auth.Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, auth.HostModeStandalone, host.Mode())

	_, err = auth.NewHost(auth.Options{HostMode: auth.HostModeEmbedded}, nil)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, "HOST_NAMESPACE_REQUIRED"))

	_, err = auth.NewHost(auth.Options{HostMode: "iframe"}, nil)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, "HOST_MODE_UNKNOWN"))

	host, err = auth.NewHost(auth.Options{HostMode: auth.HostModeEmbedded, Namespace: "ong"}, func() string { return "x" })
	require.NoError(t, err)
	assert.Equal(t, auth.HostModeEmbedded, host.Mode())
	assert.Equal(t, "x", host.Identity().UserID)
}

func TestCompose_BindsHostEverywhere(t *testing.T) {
	cfg := auth.Options{
		HostMode:             auth.HostModeEmbedded,
		Namespace:            "ong",
		LoginPath:            "/connexion",
		AuthenticatedLanding: "/accueil",
		LandingPaths:         map[string]string{"contributeur": "/espace"},
		RoleAliases:          map[string]string{"focal_point": "contributeur"},
	}

	comp, err := auth.Compose(cfg, auth.Dependencies{
		Service:  newFakeAuthService(),
		Profiles: newFakeProfileStore(),
		Logger:   auth.NopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(comp.Manager.Dispose)

	assert.Equal(t, auth.HostModeEmbedded, comp.Host.Mode())
	assert.Equal(t, comp.Host, comp.Manager.Host())
	assert.Same(t, comp.Resolver, comp.Manager.Resolver())
	assert.Same(t, comp.Synchronizer, comp.Manager.Synchronizer())

	res := comp.Resolver.Resolve(auth.RoleResolutionContext{MetadataRole: "focal_point"})
	assert.Equal(t, auth.RoleContributor, res.Role)
	assert.Equal(t, "/espace", res.Path)

	guard := comp.Guard(auth.WithRequiredRoles(auth.RoleSuperAdmin))
	assert.Equal(t, "/connexion", guard.FallbackPath)
	assert.Equal(t, "/accueil", guard.AuthenticatedLanding)
	assert.True(t, guard.RequireAuth)

	assert.NotNil(t, comp.Protect())
}
