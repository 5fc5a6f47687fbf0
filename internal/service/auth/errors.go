package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is wrapped by every token rejection. Callers that
// only need a 401 match on it; the specific errors pick the message.
var ErrUnauthenticated = errors.New("unauthenticated")

var (
	ErrInvalidToken     = rejected("invalid authentication token")
	ErrExpiredToken     = rejected("authentication token has expired")
	ErrTokenNotYetValid = rejected("authentication token not yet valid")

	// ErrWrongTokenType is returned for a validly signed token whose type
	// claim is not "access".
	ErrWrongTokenType = rejected("wrong token type")
)

// ErrInvalidConfig is returned by NewJWTService for an unusable secret or
// lifetime.
var ErrInvalidConfig = errors.New("invalid auth config")

func rejected(msg string) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
}
