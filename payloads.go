package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// MinPasswordLength mirrors the authentication service policy.
var MinPasswordLength = 6

type credentialsPayload struct {
	Email    string
	Password string
}

func (p credentialsPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
	)
}

// SignUpPayload carries the account metadata sent along the sign up
// request. Role is only a hint for the provisioning trigger.
type SignUpPayload struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Country      string `json:"country"`
	Organization string `json:"organization"`
}

func (p SignUpPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
		validation.Field(&p.FirstName, validation.Length(0, 200)),
		validation.Field(&p.LastName, validation.Length(0, 200)),
		validation.Field(&p.Country, validation.Length(0, 100)),
		validation.Field(&p.Organization, validation.Length(0, 200)),
	)
}

// Metadata returns the non empty attributes as account metadata.
func (p SignUpPayload) Metadata() map[string]any {
	meta := map[string]any{}
	add := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			meta[key] = v
		}
	}
	add("role", p.Role)
	add("first_name", p.FirstName)
	add("last_name", p.LastName)
	add("country", p.Country)
	add("organization", p.Organization)
	return meta
}

type emailPayload struct {
	Email string
}

func (p emailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

type passwordPayload struct {
	Password string
}

func (p passwordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
	)
}

// Validate checks field lengths and the avatar URL.
func (u ProfileUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.FirstName, validation.Length(0, 200)),
		validation.Field(&u.LastName, validation.Length(0, 200)),
		validation.Field(&u.Country, validation.Length(0, 100)),
		validation.Field(&u.Organization, validation.Length(0, 200)),
		validation.Field(&u.AvatarURL, is.URL),
	)
}

func validationError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, msg).
		WithCode(goerrors.CodeBadRequest)
}
