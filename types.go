package auth

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionChangeEvent names the reason a session notification fired.
type SessionChangeEvent string

const (
	SessionEventInitial        SessionChangeEvent = "INITIAL_SESSION"
	SessionEventSignedIn       SessionChangeEvent = "SIGNED_IN"
	SessionEventSignedOut      SessionChangeEvent = "SIGNED_OUT"
	SessionEventTokenRefreshed SessionChangeEvent = "TOKEN_REFRESHED"
	SessionEventUserUpdated    SessionChangeEvent = "USER_UPDATED"
	SessionEventPasswordRecov  SessionChangeEvent = "PASSWORD_RECOVERY"
)

// SessionChangeFunc receives session notifications. A nil session means
// the user is signed out.
type SessionChangeFunc func(event SessionChangeEvent, session *Session)

// AuthResult is returned by the authentication service on sign in and
// sign up. Session may be nil after sign up when email confirmation is
// pending.
type AuthResult struct {
	User    *AuthenticatedUser
	Session *Session
}

// AuthService is the opaque credential/session backend. Implementations
// may hold an internal lock while invoking SessionChangeFunc callbacks, so
// callbacks must never call back into the service synchronously.
// The value keys the one-manager-per-service registry, so it must be
// comparable; pointer implementations are.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*AuthResult, error)
	SignOut(ctx context.Context) error
	UpdateUser(ctx context.Context, password string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	OnSessionChange(fn SessionChangeFunc) (unsubscribe func())
	GetCurrentSession(ctx context.Context) (*Session, error)
}

// ProfileStore reads and writes profile rows keyed by user id. Rows are
// provisioned asynchronously after sign up; GetProfile returns
// ErrProfileNotFound until the row exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error)
}

// ProfileNotifier pushes the provisioned role of a user as soon as the
// profile row is created. The returned channel is closed when cancel is
// called or ctx is done.
type ProfileNotifier interface {
	Subscribe(ctx context.Context, userID string) (<-chan string, func(), error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + formatLogLine(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + formatLogLine(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + formatLogLine(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + formatLogLine(format, args...))
}

// formatLogLine accepts both printf style calls and structured
// message + key/value pairs, the latter being what glog expects.
func formatLogLine(format string, args ...any) string {
	if len(args) == 0 {
		return newline(format)
	}
	if strings.Contains(format, "%") {
		return newline(fmt.Sprintf(format, args...))
	}
	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
