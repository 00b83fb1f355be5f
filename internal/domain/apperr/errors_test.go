package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := Conflict("annotations.Save", "annotation %d is not active", 7)
	wrapped := fmt.Errorf("handler: %w", err)

	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, ErrConflict, KindOf(wrapped))
	assert.Contains(t, err.Error(), "annotation 7 is not active")
}

func TestWrapKeepsExistingKind(t *testing.T) {
	t.Parallel()

	inner := NotFound("repo.Get", "inspection 3")
	err := Storage("service", inner)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestWrapUnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Storage("dataset.copy", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(ErrStorage, "noop", nil))
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "InsufficientData", Name(KindOf(InsufficientData("x", "none"))))
	assert.Equal(t, "StorageError", Name(ErrStorage))
	assert.Equal(t, "Internal", Name(nil))
}
