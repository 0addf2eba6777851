package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-auth-session"
	gateadapter "github.com/goliatone/go-auth-session/adapters/featuregate"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session routes over HTTP",
	Long: `serve exposes the session manager of this process over HTTP for local
development. There is a single Manager, so every request sees and changes
the same session: it is a single operator shell, not a multi user server.
It listens on loopback by default and logs a warning when bound elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := newApp(ctx, newLogger(verbose))
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Manager().Init(ctx); err != nil {
			return err
		}

		addr := app.cfg.HTTP.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		logger := app.GetLogger("serve")
		if !isLoopbackAddr(addr) {
			logger.Warn("serving a shared session on a non loopback address, every client acts as the same user", "addr", addr)
		}

		srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
			return router.DefaultFiberOptions(fiber.New(fiber.Config{
				AppName:           "authsession",
				EnablePrintRoutes: verbose,
			}))
		})

		srv.Router().WithLogger(app.GetLogger("router"))

		SessionRoutes(app.session, srv.Router())

		logger.Info("listening", "addr", addr)
		srv.Serve(addr)

		WaitExitSignal()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides http.addr")
}

// isLoopbackAddr reports whether addr only accepts local connections. An
// empty host listens on every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RouteRegistrar captures the router methods used by SessionRoutes.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// SessionRoutes registers the session endpoints and the guarded areas.
func SessionRoutes(comp *auth.Composition, r RouteRegistrar) {
	mgr := comp.Manager

	authenticated := comp.Protect()
	contributors := comp.Protect(auth.WithRequiredRoles(
		auth.RoleContributor, auth.RoleEditor, auth.RoleCountryAdmin, auth.RoleSuperAdmin,
	))
	editors := comp.Protect(auth.WithRequiredRoles(
		auth.RoleEditor, auth.RoleCountryAdmin, auth.RoleSuperAdmin,
	))

	claims := gateadapter.NewClaimsProvider(mgr, gateadapter.WithHost(comp.Host))
	perms := gateadapter.NewPermissionProvider(mgr)

	r.Get("/session", SessionShow(mgr, claims, perms))
	r.Post("/login", SignIn(mgr))
	r.Post("/signup", SignUp(mgr))
	r.Post("/logout", SignOut(mgr))
	r.Post("/password/reset", PasswordReset(mgr))
	r.Post("/password", PasswordUpdate(mgr), authenticated)
	r.Post("/profile", ProfileUpdate(mgr), authenticated)

	r.Get("/dashboard", Area("dashboard", mgr), authenticated)
	r.Get("/contributor", Area("contributor", mgr), contributors)
	r.Get("/admin", Area("admin", mgr), editors)
}

type credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func SessionShow(mgr *auth.Manager, claims *gateadapter.ClaimsProvider, perms *gateadapter.PermissionProvider) router.HandlerFunc {
	return func(ctx router.Context) error {
		view := snapshotView(mgr.Snapshot())
		actor, err := claims.ClaimsFromContext(ctx.Context())
		if err == nil && actor.SubjectID != "" {
			view["claims"] = actor
			if granted, err := perms.Permissions(ctx.Context(), actor); err == nil {
				view["permissions"] = granted
			}
		}
		return ctx.JSON(http.StatusOK, view)
	}
}

func SignIn(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		var payload credentials
		if err := ctx.Bind(&payload); err != nil {
			return respondError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
		}

		res, err := mgr.SignIn(ctx.Context(), payload.Email, payload.Password)
		if err != nil {
			return respondError(ctx, err)
		}

		return ctx.JSON(http.StatusOK, map[string]any{
			"user":        res.User,
			"role":        res.Resolution.Role,
			"role_source": res.Resolution.Source,
			"redirect_to": res.Resolution.Path,
		})
	}
}

func SignUp(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		var payload auth.SignUpPayload
		if err := ctx.Bind(&payload); err != nil {
			return respondError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
		}

		res, err := mgr.SignUp(ctx.Context(), payload)
		if err != nil {
			return respondError(ctx, err)
		}

		return ctx.JSON(http.StatusCreated, map[string]any{
			"user":                 res.User,
			"role":                 res.Resolution.Role,
			"role_source":          res.Resolution.Source,
			"redirect_to":          res.Resolution.Path,
			"pending_confirmation": res.PendingConfirmation,
		})
	}
}

func SignOut(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		if err := mgr.SignOut(ctx.Context()); err != nil {
			return respondError(ctx, err)
		}
		return ctx.Redirect(mgr.Host().Path(auth.DefaultLoginPath), http.StatusSeeOther)
	}
}

func PasswordReset(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		var payload struct {
			Email string `json:"email" form:"email"`
		}
		if err := ctx.Bind(&payload); err != nil {
			return respondError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
		}

		if err := mgr.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusAccepted)
	}
}

func PasswordUpdate(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		var payload struct {
			Password string `json:"password" form:"password"`
		}
		if err := ctx.Bind(&payload); err != nil {
			return respondError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
		}

		if err := mgr.UpdatePassword(ctx.Context(), payload.Password); err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func ProfileUpdate(mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		var update auth.ProfileUpdate
		if err := ctx.Bind(&update); err != nil {
			return respondError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
		}

		profile, err := mgr.UpdateProfile(ctx.Context(), update)
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.JSON(http.StatusOK, profile)
	}
}

func Area(name string, mgr *auth.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		snap, ok := auth.SnapshotFromRouter(ctx)
		if !ok {
			snap = mgr.Snapshot()
		}
		role, _ := snap.Role()
		return ctx.JSON(http.StatusOK, map[string]any{
			"area":  name,
			"user":  snap.UserID(),
			"role":  role,
			"phase": snap.Phase,
		})
	}
}

func snapshotView(s auth.Snapshot) map[string]any {
	role, _ := s.Role()
	return map[string]any{
		"phase":           s.Phase,
		"user":            s.User,
		"profile":         s.Profile,
		"role":            role,
		"loading":         s.Loading,
		"profile_loading": s.ProfileLoading,
		"updated_at":      s.UpdatedAt,
	}
}

func respondError(ctx router.Context, err error) error {
	status := http.StatusInternalServerError
	message := err.Error()

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		message = richErr.Message
		status = statusFor(richErr)
	}

	if auth.IsCredentialError(err) {
		message = auth.UserMessage(err)
	}

	return ctx.JSON(status, map[string]any{"error": message})
}

func statusFor(err *errors.Error) int {
	if err.Code > 0 {
		return err.Code
	}
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
