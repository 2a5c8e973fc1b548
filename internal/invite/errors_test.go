package invite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("disk full")
	err := persistenceError("failed to store invite", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, "failed to store invite: disk full", err.Error())

	wrapped := fmt.Errorf("create: %w", newError(KindExpired, "invite has expired", nil))
	assert.ErrorIs(t, wrapped, ErrExpired)
	assert.Equal(t, KindExpired, KindOf(wrapped))

	assert.Equal(t, "not_found", ErrNotFound.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrValidation))
	assert.Equal(t, KindPermissionDenied, KindOf(newError(KindPermissionDenied, "no", nil)))
	assert.Equal(t, KindPersistence, KindOf(errors.New("foreign")))
}
