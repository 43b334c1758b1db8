// Package errors augments the standard errors
// provided by fmt (https://golang.org/src/fmt/errors.go)
// with sentinel errors that may wrap a cause or carry some detail,
// without losing their identity for errors.Is.
package errors

import (
	stderr "errors"
	"fmt"
)

var _ error = New("")

// New sentinel Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error augments the standard error interface with Wrap and Wrapf methods.
//
// The main difference with github.com/pkg/errors is that we are wrapping
// errors from errors, not from text: a sentinel declared with New is never
// mutated, and every derived error still matches the sentinel with Is.
type Error struct {
	msg      string
	detail   string
	err      error
	sentinel *Error
}

// Error message
func (e *Error) Error() string {
	msg := e.msg
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error. The returned error is a new instance.
func (e *Error) Wrap(err error) *Error {
	derived := e.derive()
	derived.err = err
	return derived
}

// Wrapf adds some formatted detail to the message. The returned error is a new instance.
func (e *Error) Wrapf(format string, args ...interface{}) *Error {
	derived := e.derive()
	if derived.detail != "" {
		derived.detail += ": "
	}
	derived.detail += fmt.Sprintf(format, args...)
	return derived
}

func (e *Error) derive() *Error {
	return &Error{
		msg:      e.msg,
		detail:   e.detail,
		err:      e.err,
		sentinel: e.root(),
	}
}

func (e *Error) root() *Error {
	if e.sentinel != nil {
		return e.sentinel
	}
	return e
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || e.root() == t
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
