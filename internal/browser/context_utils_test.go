// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "testKey"
	const value = "testValue"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, value)
		ctx2 := context.WithValue(context.Background(), key, "ignored")

		combined, cancel := CombineContext(ctx1, ctx2)
		defer cancel()

		assert.Equal(t, value, combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, 100*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		cancel2()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, 100*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("DeadlineFromSecondary", func(t *testing.T) {
		deadline := time.Now().Add(time.Hour)
		ctx2, cancel2 := context.WithDeadline(context.Background(), deadline)
		defer cancel2()

		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		got, ok := combined.Deadline()
		require.True(t, ok, "the step deadline must be visible to the driver")
		assert.WithinDuration(t, deadline, got, time.Millisecond)
	})

	t.Run("EarlierPrimaryDeadlineWins", func(t *testing.T) {
		early := time.Now().Add(time.Minute)
		ctx1, cancel1 := context.WithDeadline(context.Background(), early)
		defer cancel1()
		ctx2, cancel2 := context.WithDeadline(context.Background(), early.Add(time.Hour))
		defer cancel2()

		combined, cancel := CombineContext(ctx1, ctx2)
		defer cancel()

		got, _ := combined.Deadline()
		assert.WithinDuration(t, early, got, time.Millisecond)
	})

	t.Run("CancelIsIdempotent", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), ctxKey("k"), "v"), time.Millisecond)
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)
	assert.Equal(t, "v", detached.Value(ctxKey("k")))
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	assert.NoError(t, sleepCtx(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
