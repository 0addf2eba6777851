package auth

import (
	"net/http"

	"github.com/goliatone/go-router"
)

// SnapshotSource exposes the current session state.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// PendingPlaceholder is the body sent while the session is loading.
var PendingPlaceholder = "Chargement..."

// GuardMiddleware enforces guard on a router handler chain. Redirect
// targets go through host so embedded deployments stay in their namespace.
// Rendered requests carry the evaluated snapshot, see SnapshotFromRouter
// and SnapshotFromContext.
func GuardMiddleware(source SnapshotSource, host AuthHost, guard RouteGuard) router.MiddlewareFunc {
	if host == nil {
		host = NewStandaloneHost("")
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			snap := source.Snapshot()
			decision := guard.Evaluate(snap)
			switch decision.Outcome {
			case GuardPending:
				ctx.SetHeader("Retry-After", "1")
				return ctx.Status(http.StatusAccepted).SendString(PendingPlaceholder)
			case GuardRedirect:
				return ctx.Redirect(host.Path(decision.RedirectTo), http.StatusSeeOther)
			default:
				ctx.Locals(SnapshotLocalsKey, snap)
				ctx.SetContext(WithSnapshot(ctx.Context(), snap))
				return next(ctx)
			}
		}
	}
}
