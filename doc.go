// Package auth keeps the client side view of an authentication session and
// resolves where a signed in user lands based on the role stored in their
// profile.
//
// Session lifecycle:
//   - Manager owns the session snapshot. Every change, whether it comes from
//     a user action, a session change notification or the initial probe, is
//     applied on a single goroutine in arrival order. Readers get an immutable
//     Snapshot through Snapshot or Subscribe.
//   - Init registers the change listener before probing the current session,
//     so a sign out racing the probe is never overwritten by a stale answer.
//   - Only one Manager may be bound to an AuthService at a time. Dispose
//     releases the binding.
//
// Profiles and roles:
//   - The profile row is created asynchronously after sign up.
//     ProfileSynchronizer waits for it with a bounded poll, woken early by a
//     ProfileNotifier when one is configured.
//   - RoleResolver picks the landing path from the polled role, then the
//     sign up metadata hint, then the last role cached for the user, and
//     falls back to the reader landing. Role names from any vocabulary are
//     canonicalized through the configured aliases.
//
// Routing:
//   - RouteGuard turns a Snapshot into render, redirect or pending.
//     GuardMiddleware applies it to go-router handlers and stores the
//     evaluated snapshot for downstream handlers, see SnapshotFromContext.
//   - AuthHost builds every path and redirect URL, so the same code runs
//     standalone or embedded under a container namespace.
//
// Audit:
//   - Security events are handed to an AuditSink on a dedicated goroutine in
//     the order they were recorded. A failing or slow sink never affects the
//     outcome of the user action.
package auth
