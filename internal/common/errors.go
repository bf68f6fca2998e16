// Package common defines shared constants, sentinel errors and small helpers
// used across client and server layers of AuthKeeper. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// ErrAuthentication covers bad credentials and a missing authenticated principal.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound is returned by repositories when a row is absent and by the
	// refresh-token manager when the user has no active session.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks client-correctable input problems (registration,
	// role assignment, missing results while building a response).
	ErrValidation = errors.New("validation error")

	// ErrPersistence is returned when a write reports zero affected rows
	// although rows were expected to change.
	ErrPersistence = errors.New("persistence error")

	// ErrCacheCorruption is returned when a present cache entry cannot be decoded.
	ErrCacheCorruption = errors.New("cache corruption")

	// ErrTokenGeneration is returned when the signer yields an empty token.
	ErrTokenGeneration = errors.New("token generation error")

	// ErrInternal hides unexpected failures from transport callers.
	ErrInternal = errors.New("internal error")

	// Access token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
