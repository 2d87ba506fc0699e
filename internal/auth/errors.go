package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAssertion = errors.New("auth: invalid identity assertion")
	ErrConflict         = errors.New("auth: conflict")
	ErrUnauthenticated  = errors.New("auth: unauthenticated")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrNotFound         = errors.New("auth: not found")
	ErrValidation       = errors.New("auth: validation failed")
	ErrSigning          = errors.New("auth: signing failed")
)

// Reasons carried by ErrUnauthenticated.
var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	ErrTokenExpired     = fmt.Errorf("%w: expired", ErrUnauthenticated)
)
