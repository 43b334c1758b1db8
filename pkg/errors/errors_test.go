package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestSentinelNotMutated(t *testing.T) {
	sentinel := New("not found")
	derived := sentinel.Wrapf("image %s", "abc")
	wrapped := sentinel.Wrap(fmt.Errorf("io failure"))

	assert.Equal(t, "not found", sentinel.Error())
	assert.Nil(t, sentinel.Unwrap())
	assert.Equal(t, "not found: image abc", derived.Error())
	assert.Equal(t, "not found: io failure", wrapped.Error())

	assert.True(t, Is(derived, sentinel))
	assert.True(t, Is(wrapped, sentinel))
	assert.False(t, Is(derived, New("not found")))
}

func TestWrapfChain(t *testing.T) {
	sentinel := New("integrity violation")
	err := sentinel.Wrapf("object %s", "o1").Wrapf("format %q", "SNAP")
	require.Equal(t, `integrity violation: object o1: format "SNAP"`, err.Error())
	require.True(t, Is(fmt.Errorf("register: %w", err), sentinel))

	var target *Error
	require.True(t, As(fmt.Errorf("register: %w", err), &target))
	require.True(t, target.Is(sentinel))
}
