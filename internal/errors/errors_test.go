package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSentinelError = fmt.Errorf("sentinel error")

type fooError struct {
	message string
}

var _ error = (*fooError)(nil)

func (f *fooError) Error() string {
	return f.message
}

func TestWith(t *testing.T) {
	fooErr := &fooError{message: "foo"}
	require.NotErrorIs(t, fooErr, errSentinelError)

	tagged := With(fooErr, errSentinelError)
	require.ErrorIs(t, tagged, errSentinelError)
	require.ErrorIs(t, tagged, fooErr)
	require.Equal(t, "foo", tagged.Error())

	var target *fooError
	require.ErrorAs(t, tagged, &target)
	require.Equal(t, "foo", target.message)
}

func TestWithNil(t *testing.T) {
	fooErr := &fooError{message: "foo"}

	require.NoError(t, With(nil, nil))
	require.Equal(t, error(fooErr), With(fooErr, nil))
	require.Equal(t, errSentinelError, With(nil, errSentinelError))
}

func TestWithWrapped(t *testing.T) {
	wrapped := fmt.Errorf("read: %w", With(&fooError{message: "disk"}, errSentinelError))
	require.ErrorIs(t, wrapped, errSentinelError)
	require.Equal(t, "read: disk", wrapped.Error())
}

func ExampleWith() {
	sentinelError := fmt.Errorf("some concrete error value")

	fooErr := &fooError{message: "foo"}
	if !errors.Is(fooErr, sentinelError) {
		fmt.Println("1")
	}

	sentinelFooErr := With(fooErr, sentinelError)
	if errors.Is(sentinelFooErr, sentinelError) {
		fmt.Println("2")
	}

	// Output: 1
	// 2
}
