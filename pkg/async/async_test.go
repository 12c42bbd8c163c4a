package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relayq/pkg/async"
)

func TestAsync_Await(t *testing.T) {
	t.Parallel()

	f := async.Async(context.Background(), 21, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})

	result, err := f.Await()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.True(t, f.IsComplete())
}

func TestAsync_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := async.Async(context.Background(), struct{}{}, func(context.Context, struct{}) (int, error) {
		return 0, boom
	})

	_, err := f.Await()
	assert.ErrorIs(t, err, boom)
}

func TestAsync_AwaitWithTimeout(t *testing.T) {
	t.Parallel()

	t.Run("completes within timeout", func(t *testing.T) {
		t.Parallel()

		f := async.Async(context.Background(), "ok", func(_ context.Context, s string) (string, error) {
			return s, nil
		})
		result, err := f.AwaitWithTimeout(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	})

	t.Run("times out on slow function", func(t *testing.T) {
		t.Parallel()

		f := async.Async(context.Background(), struct{}{}, func(ctx context.Context, _ struct{}) (int, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return 1, nil
		})
		_, err := f.AwaitWithTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, async.ErrTimeout)
	})
}

func TestAsync_PreCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	f := async.Async(ctx, struct{}{}, func(context.Context, struct{}) (int, error) {
		called = true
		return 1, nil
	})

	_, err := f.Await()
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
