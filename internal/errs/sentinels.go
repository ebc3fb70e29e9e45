// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad email/password or invalid token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated indicates an operation that needs a signed-in identity ran without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrRateLimited indicates temporary sign-in lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates input rejected before any I/O started.
	ErrValidation = errors.New("validation")

	// ErrUnavailable indicates a network, listener or storage failure.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrPartialUpload indicates the image stage failed after some images were committed.
	ErrPartialUpload = errors.New("partial upload")
)
