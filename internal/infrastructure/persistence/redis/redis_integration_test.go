//go:build integration

package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })

	return NewCacheFromClient(client)
}

func TestLocker_Exclusive(t *testing.T) {
	cache := newTestCache(t)
	locker := NewLocker(cache, 5*time.Second)
	ctx := context.Background()
	key := progression.LockKey("p-1")

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 100*time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrBusy)

	release()

	release, err = locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	release()
}

func TestLocker_ReleaseKeepsForeignToken(t *testing.T) {
	cache := newTestCache(t)
	locker := NewLocker(cache, 50*time.Millisecond)
	ctx := context.Background()
	key := progression.LockKey("p-2")

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	// The TTL expires and another holder takes over.
	time.Sleep(100 * time.Millisecond)
	other, err := NewLocker(cache, 5*time.Second).Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	release()
	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	other()
}

func TestLocker_Contention(t *testing.T) {
	cache := newTestCache(t)
	locker := NewLocker(cache, 5*time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, progression.LockKey("p-3"), 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestEligibilityCache_VersionGuard(t *testing.T) {
	cache := newTestCache(t)
	ec := NewEligibilityCache(cache, time.Minute)
	ctx := context.Background()

	blue, _ := belt.DefaultCatalog().Get("BLUE")
	a := progression.Assessment{
		Result:         progression.Result{Outcome: progression.EligibleForBelt, NextBelt: blue},
		PractitionerID: "p-1",
		CurrentBelt:    "WHITE",
		CurrentDegree:  4,
		Version:        4,
	}
	require.NoError(t, ec.Put(ctx, a, 1))

	got, ok, err := ec.Get(ctx, "p-1", 4, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BLUE", got.NextBelt.Code)
	assert.Equal(t, "BELT:BLUE", got.Target())

	_, ok, err = ec.Get(ctx, "p-1", 5, 1)
	require.NoError(t, err)
	assert.False(t, ok, "newer practitioner version must miss")

	_, ok, err = ec.Get(ctx, "p-1", 4, 2)
	require.NoError(t, err)
	assert.False(t, ok, "newer catalog must miss")

	require.NoError(t, ec.Invalidate(ctx, "p-1"))
	_, ok, err = ec.Get(ctx, "p-1", 4, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepMarker(t *testing.T) {
	cache := newTestCache(t)
	m := NewSweepMarker(cache, time.Minute)
	ctx := context.Background()

	first, err := m.MarkNew(ctx, "p-1", "BELT:BLUE")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := m.MarkNew(ctx, "p-1", "BELT:BLUE")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := m.MarkNew(ctx, "p-1", "DEGREE:BLUE:1")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, m.Unmark(ctx, "p-1", "BELT:BLUE"))
	retried, err := m.MarkNew(ctx, "p-1", "BELT:BLUE")
	require.NoError(t, err)
	assert.True(t, retried)
}
