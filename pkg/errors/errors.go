// Package errors wraps github.com/pkg/errors and adds the *AndReport
// variants, which also hand the error to every configured Reporter.
//
// Like pkg/errors, the wrapping helpers return nil for a nil error, so
// `return errors.WrapAndReport(err, "...")` is safe on the success path.
package errors

import (
	stderrors "errors"
	"fmt"
	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the message and the caller stack.
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf formats an error with the caller stack.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap annotates err with message and the caller stack.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message and the caller stack.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// WithStack annotates err with the caller stack.
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// NewWithReport is New followed by report.
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

// ErrorfAndReport is Errorf followed by report.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport is Wrap followed by report.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// WrapfAndReport is Wrapf followed by report.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return WrapAndReport(err, fmt.Sprintf(format, args...))
}

// WithStackAndReport is WithStack followed by report.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.WithStack(err)
	report(wrapped)
	return wrapped
}
