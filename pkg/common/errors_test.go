package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")

	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(NewTransientError(base)))
	assert.True(t, IsTransient(fmt.Errorf("submit: %w", NewTransientError(base))))
	assert.ErrorIs(t, NewTransientError(base), base)
	assert.Nil(t, NewTransientError(nil))
}

func TestReconciliationErrorUnwraps(t *testing.T) {
	err := &ReconciliationError{Err: fmt.Errorf("%w: disk full", ErrPayoutFailed)}
	assert.ErrorIs(t, err, ErrPayoutFailed)
	assert.Contains(t, err.Error(), "not marked executed")
}
