package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/lock"
)

func TestWithLockSerialisesHolders(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const key = "revenue:ingest:stripe:pi_1"
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, key, time.Second, func(context.Context) error {
				mu.Lock()
				inside++
				maxSeen = max(maxSeen, inside)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.False(t, mr.Exists(key))
}

func TestReleaseKeepsSuccessorLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client}
	err := locker.TryLock(context.Background(), "payout:2026-09", time.Second, func(context.Context) error {
		// simulate expiry and a new holder taking over
		require.NoError(t, mr.Set("payout:2026-09", "successor"))
		return nil
	})
	require.NoError(t, err)
	got, err := mr.Get("payout:2026-09")
	require.NoError(t, err)
	require.Equal(t, "successor", got)

	require.Error(t, lock.Locker{}.TryLock(context.Background(), "k", 0, func(context.Context) error { return nil }))
	require.Error(t, locker.WithLock(context.Background(), "k", 0, nil))
}

func TestTryLockDoesNotWait(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, Prefix: "revshare"}
	ctx := context.Background()

	err := locker.TryLock(ctx, "notify:evt-1", time.Second, func(ctx context.Context) error {
		require.True(t, mr.Exists("revshare:notify:evt-1"))
		inner := locker.TryLock(ctx, "notify:evt-1", time.Second, func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		require.ErrorIs(t, inner, lock.ErrNotAcquired)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("revshare:notify:evt-1"))
}

func TestWithLockMaxWait(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, mr.Set("held", "someone-else"))
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	err := locker.WithLock(context.Background(), "held", time.Second, func(context.Context) error {
		t.Fatal("must not acquire a held key")
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	got, _ := mr.Get("held")
	require.Equal(t, "someone-else", got)
}
