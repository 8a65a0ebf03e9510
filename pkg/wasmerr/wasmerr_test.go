package wasmerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NotFound, cause, "component xyz not found")

	require.Error(t, err)
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
	assert.Equal(t, NotFound, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestWrapfFormatsMessage(t *testing.T) {
	err := Wrapf(Validation, nil, "field %q is required", "lattice")
	assert.Equal(t, `field "lattice" is required`, err.Error())
	assert.Equal(t, Validation, err.Kind())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("unwrapped")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
