package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "+5215512345678")
	require.NoError(t, err)
	assert.True(t, mr.Exists("sara:lock:lead:+5215512345678"))

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(waitCtx, "+5215512345678")
	assert.ErrorIs(t, err, ErrTimeout)

	other, err := locker.Acquire(ctx, "+5215500000000")
	require.NoError(t, err, "different phones do not contend")
	other()

	release()
	assert.False(t, mr.Exists("sara:lock:lead:+5215512345678"))

	again, err := locker.Acquire(ctx, "+5215512345678")
	require.NoError(t, err)
	again()
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Second)
	release, err := locker.Acquire(context.Background(), "p")
	require.NoError(t, err)

	// lock expired and another worker took it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("sara:lock:lead:p", "someone-else"))

	release()
	got, err := mr.Get("sara:lock:lead:p")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLockerSerializesPerKey(t *testing.T) {
	locker := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "same")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.slots)
}

func TestLocalLockerTimeout(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrTimeout)
}
