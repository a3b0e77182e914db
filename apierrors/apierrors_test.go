package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := NotFound("/user/alice/")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIsMatchesSentinel(t *testing.T) {
	err := NotFound("/user/alice/")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrBackendUnavailable))
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := BackendUnavailable("add_route", "/user/alice/", underlying)
	assert.ErrorIs(t, err, underlying)
}

func TestErrorIncludesRouteSpecAndOp(t *testing.T) {
	err := PartialWrite("atomic_set", "/user/alice/", errors.New("boom"))
	msg := err.Error()
	assert.Contains(t, msg, "/user/alice/")
	assert.Contains(t, msg, "atomic_set")
}
