package auth

import "errors"

// Owner token failures. The API answers all of them with 401; only
// ErrExpiredToken gets its own message so clients know to re-issue.
var (
	// ErrInvalidToken covers bad signatures, foreign issuers, unexpected
	// algorithms and subjects that are not owner IDs.
	ErrInvalidToken = errors.New("owner token is invalid")

	ErrExpiredToken = errors.New("owner token has expired")

	// ErrTokenNotYetValid is returned for iat or nbf beyond the allowed
	// clock skew.
	ErrTokenNotYetValid = errors.New("owner token is not valid yet")

	ErrMissingToken = errors.New("owner token is missing")
)
