package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throwNil(ctx context.Context) error {
	var x *int = nil
	*x = 5
	return nil
}

func TestRunWithScissorsCatchesPanic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errC := make(chan error, 1)
	RunWithScissors(ctx, errC, "panicking", throwNil)

	select {
	case err := <-errC:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicking")
	case <-ctx.Done():
		t.Fatal("timed out waiting for the panic to be reported")
	}
}

func TestRunWithScissorsForwardsErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errC := make(chan error, 1)
	expected := errors.New("boom")
	RunWithScissors(ctx, errC, "failing", func(ctx context.Context) error { return expected })

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, expected)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the error")
	}
}

func TestWrapWithScissors(t *testing.T) {
	err := WrapWithScissors(throwNil, "wrapped")(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrapped")

	err = WrapWithScissors(func(ctx context.Context) error { return nil }, "fine")(context.Background())
	assert.NoError(t, err)
}
