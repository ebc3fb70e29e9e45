package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell "retry" from "fatal" from
// "show validation hint".
type Kind int

const (
	KindUnknown Kind = iota
	KindNotAuthenticated
	KindNotFound
	KindValidation
	KindRemoteUnavailable
	KindPartialUpload
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "NotAuthenticated"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "ValidationFailure"
	case KindRemoteUnavailable:
		return "RemoteUnavailable"
	case KindPartialUpload:
		return "PartialUploadFailure"
	default:
		return "Unknown"
	}
}

// Retryable reports whether repeating the same call may succeed.
func (k Kind) Retryable() bool {
	return k == KindRemoteUnavailable || k == KindPartialUpload
}

// KindOf maps an error chain to its Kind. Errors that match no sentinel are
// treated as remote failures: everything below the service layer is I/O.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrPartialUpload):
		return KindPartialUpload
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAlreadyExists):
		return KindValidation
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRateLimited):
		return KindNotAuthenticated
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindRemoteUnavailable
	}
}

// Validation returns an ErrValidation-wrapped error with a formatted hint.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
