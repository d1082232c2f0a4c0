// Package errmsg classifies failures of a convolution operation by the
// stage that produced them.
package errmsg

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	Construction
	Compile
	Bind
	Tune
	Dispatch
	Descriptor
)

var KindStrings = []string{
	Unknown:      "unknown",
	Construction: "construction",
	Compile:      "compile",
	Bind:         "bind",
	Tune:         "tune",
	Dispatch:     "dispatch",
	Descriptor:   "descriptor",
}

func (k Kind) String() string {
	return KindStrings[k]
}

// Fatal reports whether a failure of this kind leaves the operation
// unusable. A failed tuning pass keeps the previous work group size.
func (k Kind) Fatal() bool {
	return k != Tune
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: Bind}) asks "did binding fail".
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap returns nil when err is nil. An err that already carries a kind
// keeps it.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != Unknown {
		return errors.WithMessage(err, msg)
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
