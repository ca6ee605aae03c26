package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid search request")
	ErrEngineClosed   = errors.New("search engine is closed")
)

// invalidRequestError returns an error matching ErrInvalidRequest, described
// by the given message.
func invalidRequestError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
