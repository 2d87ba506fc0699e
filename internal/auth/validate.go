package auth

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// MaxIDLength bounds user identifiers accepted from callers.
const MaxIDLength = 128

const (
	maxNameLength  = 200
	maxEmailLength = 254
)

// Normalized trims every field and lower-cases the email.
func (in NewUser) Normalized() NewUser {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	return in
}

// Validate checks the normalized input. Failures wrap ErrValidation.
func (in NewUser) Validate() error {
	in = in.Normalized()
	err := validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Length(0, MaxIDLength)),
		validation.Field(&in.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, maxEmailLength), is.EmailFormat),
	)
	return asValidation(err)
}

// ValidateUserID applies the id rules used by the role endpoints.
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	return asValidation(validation.Validate(id,
		validation.Required.Error("userId is required"),
		validation.Length(1, MaxIDLength),
	))
}

func asValidation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, err.Error())
}
