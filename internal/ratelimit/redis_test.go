package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, s
}

func TestRedisLimiter_UnderLimit(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	assert.True(t, rl.Admit(ctx, "user:1", CategoryAuthenticated))
	assert.Equal(t, 2, rl.Remaining(ctx, "user:1", CategoryAuthenticated))
}

func TestRedisLimiter_AtLimit(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Admit(ctx, "ip:10.0.0.1", CategoryAnonymous), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Admit(ctx, "ip:10.0.0.1", CategoryAnonymous))
	assert.Equal(t, 0, rl.Remaining(ctx, "ip:10.0.0.1", CategoryAnonymous))
}

func TestRedisLimiter_DifferentIdentifiers(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, rl.Admit(ctx, "user:1", CategoryAuthenticated))
	}
	assert.False(t, rl.Admit(ctx, "user:1", CategoryAuthenticated))
	assert.True(t, rl.Admit(ctx, "user:2", CategoryAuthenticated))
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	// Entries older than the 24h window simulate an expired quota.
	key := redisKey("user:5", CategoryAuthenticated)
	oldTime := float64(time.Now().Add(-25 * time.Hour).UnixMilli())
	for i := 0; i < 3; i++ {
		rdb.ZAdd(ctx, key, redis.Z{Score: oldTime + float64(i), Member: fmt.Sprintf("old:%d", i)})
	}

	count, err := rdb.ZCard(ctx, key).Result()
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	assert.True(t, rl.Admit(ctx, "user:5", CategoryAuthenticated), "old entries should be cleaned")
	assert.Equal(t, 2, rl.Remaining(ctx, "user:5", CategoryAuthenticated))
}

func TestRedisLimiter_SetsKeyTTL(t *testing.T) {
	rdb, mr := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())

	require.True(t, rl.Admit(context.Background(), "ip:1.2.3.4", CategoryAnonymous))
	ttl := mr.TTL(redisKey("ip:1.2.3.4", CategoryAnonymous))
	assert.Equal(t, time.Hour+keyTTLSlack, ttl)
}

func TestRedisLimiter_FailsOpenOnRedisError(t *testing.T) {
	rdb, mr := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	mr.Close()

	assert.True(t, rl.Admit(context.Background(), "ip:3.3.3.3", CategoryAnonymous))
	assert.Equal(t, 10, rl.Remaining(context.Background(), "ip:3.3.3.3", CategoryAnonymous))
}

func TestRedisLimiter_UnknownCategoryDenied(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	assert.False(t, rl.Admit(context.Background(), "ip:3.3.3.3", Category("bulk")))
}

func TestRedisLimiter_ConcurrentAdmitsNeverExceedCeiling(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	rl := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit(ctx, "ip:198.51.100.77", CategoryAnonymous) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
	assert.Equal(t, 0, rl.Remaining(ctx, "ip:198.51.100.77", CategoryAnonymous))
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	rdb, _ := setupMiniredis(t)
	first := NewRedisLimiter(rdb, testPolicies())
	second := NewRedisLimiter(rdb, testPolicies())
	ctx := context.Background()

	fixed := time.Now()
	first.now = func() time.Time { return fixed }
	second.now = func() time.Time { return fixed }

	// Same millisecond on both instances still yields distinct admissions.
	for i := 0; i < 3; i++ {
		l := first
		if i%2 == 1 {
			l = second
		}
		require.True(t, l.Admit(ctx, "user:9", CategoryAuthenticated))
	}
	assert.False(t, second.Admit(ctx, "user:9", CategoryAuthenticated))
	assert.Equal(t, 0, first.Remaining(ctx, "user:9", CategoryAuthenticated))
}
