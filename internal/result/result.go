// Package result implements the tri-state value returned or emitted by every
// asynchronous operation: Loading, Success(value) or Failure(error).
package result

import (
	"github.com/and161185/market-keeper/internal/errs"
)

type tag uint8

const (
	tagLoading tag = iota
	tagSuccess
	tagFailure
)

// Error is the payload of a failed State.
type Error struct {
	Kind    errs.Kind
	Message string
}

func (e Error) Error() string { return e.Message }

// State is a closed tagged union. The zero value is Loading. Values can only be
// built with Loading, Success, Fail and FromError, and inspected exhaustively
// with Match.
type State[T any] struct {
	tag   tag
	value T
	err   Error
}

// Loading returns the in-progress state.
func Loading[T any]() State[T] { return State[T]{tag: tagLoading} }

// Success wraps v.
func Success[T any](v T) State[T] { return State[T]{tag: tagSuccess, value: v} }

// Fail returns a failure of the given kind.
func Fail[T any](kind errs.Kind, msg string) State[T] {
	return State[T]{tag: tagFailure, err: Error{Kind: kind, Message: msg}}
}

// FromError returns a failure classified by errs.KindOf.
func FromError[T any](err error) State[T] {
	return Fail[T](errs.KindOf(err), err.Error())
}

// Of returns Success(v) when err is nil and FromError(err) otherwise.
func Of[T any](v T, err error) State[T] {
	if err != nil {
		return FromError[T](err)
	}
	return Success(v)
}

// Match calls exactly one of the handlers. All three are required, so a
// caller cannot forget a branch.
func Match[T, R any](s State[T], onLoading func() R, onSuccess func(T) R, onFailure func(Error) R) R {
	switch s.tag {
	case tagSuccess:
		return onSuccess(s.value)
	case tagFailure:
		return onFailure(s.err)
	default:
		return onLoading()
	}
}

// Map transforms the success value, passing Loading and Failure through.
func Map[T, R any](s State[T], f func(T) R) State[R] {
	return Match(s,
		Loading[R],
		func(v T) State[R] { return Success(f(v)) },
		func(e Error) State[R] { return State[R]{tag: tagFailure, err: e} },
	)
}

func (s State[T]) IsLoading() bool { return s.tag == tagLoading }
func (s State[T]) IsSuccess() bool { return s.tag == tagSuccess }
func (s State[T]) IsFailure() bool { return s.tag == tagFailure }

// Value returns the success value and true, or the zero value and false.
func (s State[T]) Value() (T, bool) {
	return s.value, s.tag == tagSuccess
}

// Err returns the failure payload and true, or a zero Error and false.
func (s State[T]) Err() (Error, bool) {
	return s.err, s.tag == tagFailure
}

func (s State[T]) String() string {
	switch s.tag {
	case tagSuccess:
		return "Success"
	case tagFailure:
		return "Failure(" + s.err.Kind.String() + ": " + s.err.Message + ")"
	default:
		return "Loading"
	}
}
