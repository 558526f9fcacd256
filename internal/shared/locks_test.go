package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerSerialisesHolders(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewLocker(rdb, time.Minute)
	key := EODLockKey(1, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "eod:1:20261015:lock", key)

	ctx := context.Background()
	err := locker.WithLock(ctx, key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrLockBusy)
		return nil
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, locker.WithLock(ctx, key, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran, "lock must be released after the first holder returns")
}

func TestNilLockerRunsUnguarded(t *testing.T) {
	var locker *Locker
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}
