// Package errors contains helpers for attaching sentinel errors to concrete
// errors returned by drivers and other third party code.
package errors

import "errors"

// With returns an error that reports the message of base and matches both
// base and top with errors.Is and errors.As. It is used to tag a driver
// error with one of this project's sentinel errors without losing the
// original error chain.
func With(base, top error) error {
	switch {
	case base == nil && top == nil:
		return nil
	case top == nil:
		return base
	case base == nil:
		return top
	}
	return &tagged{error: base, tag: top}
}

type tagged struct {
	error
	tag error
}

func (t *tagged) Is(target error) bool {
	return errors.Is(t.tag, target)
}

func (t *tagged) As(target any) bool {
	return errors.As(t.tag, target)
}

func (t *tagged) Unwrap() error {
	return t.error
}
