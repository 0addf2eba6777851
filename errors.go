package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	TextCodeEmailNotConfirmed    = "EMAIL_NOT_CONFIRMED"
	TextCodeRateLimited          = "RATE_LIMITED"
	TextCodeUserAlreadyExists    = "USER_ALREADY_REGISTERED"
	TextCodeWeakPassword         = "WEAK_PASSWORD"
	TextCodeCredentialUnknown    = "CREDENTIAL_ERROR"
	TextCodeProfileNotFound      = "PROFILE_NOT_FOUND"
	TextCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	TextCodeManagerBound         = "SESSION_MANAGER_ALREADY_BOUND"
	TextCodeManagerNotInit       = "SESSION_MANAGER_NOT_INITIALIZED"
	TextCodeServiceNotComparable = "AUTH_SERVICE_NOT_COMPARABLE"
	TextCodeSignupDisabled       = "SIGNUP_DISABLED"
	TextCodePasswordResetDisable = "PASSWORD_RESET_DISABLED"
)

// User facing messages, the portal UI is in French.
const (
	MessageInvalidCredentials = "Email ou mot de passe incorrect"
	MessageEmailNotConfirmed  = "Veuillez confirmer votre adresse email avant de vous connecter"
	MessageRateLimited        = "Trop de tentatives, veuillez réessayer plus tard"
	MessageUserAlreadyExists  = "Un compte existe déjà avec cette adresse email"
	MessageWeakPassword       = "Le mot de passe doit contenir au moins 6 caractères"
	MessageCredentialUnknown  = "Une erreur est survenue lors de l'authentification"
)

// ErrInvalidCredentials is returned for a wrong email/password pair
var ErrInvalidCredentials = goerrors.New(MessageInvalidCredentials, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotConfirmed is returned when the account email was never confirmed
var ErrEmailNotConfirmed = goerrors.New(MessageEmailNotConfirmed, goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(goerrors.CodeUnauthorized)

// ErrRateLimited is returned when the service throttles credential attempts
var ErrRateLimited = goerrors.New(MessageRateLimited, goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited)

// ErrUserAlreadyRegistered is returned on sign up with a known email
var ErrUserAlreadyRegistered = goerrors.New(MessageUserAlreadyExists, goerrors.CategoryConflict).
	WithTextCode(TextCodeUserAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrWeakPassword is returned when the service rejects the password strength
var ErrWeakPassword = goerrors.New(MessageWeakPassword, goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrCredentialUnknown wraps service failures that match no known pattern
var ErrCredentialUnknown = goerrors.New(MessageCredentialUnknown, goerrors.CategoryAuth).
	WithTextCode(TextCodeCredentialUnknown).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileNotFound signals the profile row is not provisioned yet
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNotAuthenticated is returned by operations that need a signed in user
var ErrNotAuthenticated = goerrors.New("no authenticated user", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrManagerAlreadyBound is returned when a second manager targets the same AuthService
var ErrManagerAlreadyBound = goerrors.New("a session manager is already bound to this auth service", goerrors.CategoryConflict).
	WithTextCode(TextCodeManagerBound).
	WithCode(goerrors.CodeConflict)

// ErrServiceNotComparable is returned when the AuthService value cannot key
// the manager registry, use a pointer implementation
var ErrServiceNotComparable = goerrors.New("auth service must be a comparable value, such as a pointer", goerrors.CategoryBadInput).
	WithTextCode(TextCodeServiceNotComparable)

// ErrManagerNotInitialized is returned when operations run before Init
var ErrManagerNotInitialized = goerrors.New("session manager not initialized", goerrors.CategoryOperation).
	WithTextCode(TextCodeManagerNotInit)

// ErrSignupDisabled is returned when the signup feature gate is off
var ErrSignupDisabled = goerrors.New("signup is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSignupDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrPasswordResetDisabled is returned when the password reset feature gate is off
var ErrPasswordResetDisabled = goerrors.New("password reset is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodePasswordResetDisable).
	WithCode(goerrors.CodeForbidden)

var credentialPatterns = []struct {
	needles []string
	base    *goerrors.Error
}{
	{[]string{"invalid login credentials", "invalid credentials", "invalid password", "wrong password"}, ErrInvalidCredentials},
	{[]string{"email not confirmed", "email_not_confirmed"}, ErrEmailNotConfirmed},
	{[]string{"rate limit", "too many requests", "over_email_send_rate_limit"}, ErrRateLimited},
	{[]string{"already registered", "user already exists"}, ErrUserAlreadyRegistered},
	{[]string{"password should be at least", "weak password", "weak_password"}, ErrWeakPassword},
}

// ClassifyCredentialError maps the service error text onto a user facing
// credential error. The original error is kept as Source.
func ClassifyCredentialError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && isCredentialTextCode(richErr.TextCode) {
		return richErr
	}

	msg := strings.ToLower(err.Error())
	base := ErrCredentialUnknown
	for _, p := range credentialPatterns {
		if containsAny(msg, p.needles...) {
			base = p.base
			break
		}
	}

	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = err
	return clone
}

// IsCredentialError reports whether err was produced by ClassifyCredentialError
func IsCredentialError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return isCredentialTextCode(richErr.TextCode)
}

// UserMessage returns the message that can be shown to the end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && isCredentialTextCode(richErr.TextCode) {
		return richErr.Message
	}
	return MessageCredentialUnknown
}

// IsProfileNotFound reports whether the profile row does not exist yet
func IsProfileNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeProfileNotFound || goerrors.IsNotFound(err)
	}
	return false
}

// HasTextCode checks a rich error text code anywhere in the chain
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func isCredentialTextCode(code string) bool {
	switch code {
	case TextCodeInvalidCredentials,
		TextCodeEmailNotConfirmed,
		TextCodeRateLimited,
		TextCodeUserAlreadyExists,
		TextCodeWeakPassword,
		TextCodeCredentialUnknown:
		return true
	default:
		return false
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
