package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func TestKeyed_ExclusivePerKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)

	_, err = k.Acquire(ctx, "a", 20*time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrBusy)

	other, err := k.Acquire(ctx, "b", 20*time.Millisecond)
	require.NoError(t, err, "different keys do not block each other")
	other()

	release()
	release() // second call is a no-op

	again, err := k.Acquire(ctx, "a", 20*time.Millisecond)
	require.NoError(t, err)
	again()
	assert.Zero(t, k.Len())
}

func TestKeyed_ContextCancel(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Acquire(ctx, "a", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyed_Serializes(t *testing.T) {
	k := NewKeyed()
	var inside, violations int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "p-1", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Zero(t, k.Len())
}
