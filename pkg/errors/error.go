/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package errors

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	errorId = atomic.Uint64{}

	ErrRuntime = New("errors: runtime error")
)

// Error is an identity-comparable error. Two *Error values match with Is when
// they were derived from the same New call, regardless of the wrapped cause.
type Error struct {
	id      uint64
	kind    string
	Message string
	Cause   error
}

func (err *Error) Wrap(cause error) *Error {
	return &Error{
		id:      err.id,
		kind:    err.kind,
		Message: err.Message,
		Cause:   cause,
	}
}

// Wrapf wraps a freshly formatted error as the cause.
func (err *Error) Wrapf(format string, a ...any) *Error {
	return err.Wrap(fmt.Errorf(format, a...))
}

func (err *Error) Kind() string {
	return err.kind
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s caused by %s", err.Message, err.Cause.Error())
	}

	return err.Message
}

func (err *Error) Unwrap() error {
	return err.Cause
}

func (err *Error) Is(target error) bool {
	if castTarget, ok := target.(*Error); ok {
		if err.id == castTarget.id {
			return true
		}
	}

	return errors.Is(err.Cause, target)
}

func New(a ...any) *Error {
	return &Error{
		id:      errorId.Add(1) - 1,
		Message: fmt.Sprint(a...),
		Cause:   nil,
	}
}

func Newf(format string, a ...any) *Error {
	return New(fmt.Sprintf(format, a...))
}

// NewKind creates an error that reports kind through KindOf. Kinds group
// failures for metrics and client-facing status text.
func NewKind(kind string, a ...any) *Error {
	err := New(a...)
	err.kind = kind
	return err
}

// KindOf returns the kind of the outermost *Error in the tree that has one,
// searching joined errors in order, or "unknown".
func KindOf(err error) string {
	if kind := kindOf(err); kind != "" {
		return kind
	}

	return "unknown"
}

func kindOf(err error) string {
	for err != nil {
		if castErr, ok := err.(*Error); ok && castErr.kind != "" {
			return castErr.kind
		}

		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if kind := kindOf(inner); kind != "" {
					return kind
				}
			}
			return ""
		}

		err = errors.Unwrap(err)
	}

	return ""
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func Is(err error, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
