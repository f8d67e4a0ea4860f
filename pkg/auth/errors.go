package auth

import "errors"

// Decode failure taxonomy. The gateway maps all of these to a 401 with a
// distinct machine-parseable reason code; none of them ever carries secret
// material.
var (
	// ErrMissingCredential is returned when no bearer token is present.
	// Absence of a credential is a distinct failure from an invalid one.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidSignature is returned when the token cannot be parsed or
	// its signature does not verify against the configured key.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrExpired is returned when the token's expiry is at or before the
	// evaluation time, regardless of any other claim content.
	ErrExpired = errors.New("token expired")

	// ErrMalformedClaims is returned when required claims are missing or
	// not members of their closed sets.
	ErrMalformedClaims = errors.New("malformed claims")
)
