package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "wrapper-test", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx).Err())
	require.NoError(t, wrapper.Set(ctx, "ctx:int-1", "payload", time.Minute).Err())

	got := wrapper.Get(ctx, "ctx:int-1")
	require.NoError(t, got.Err())
	assert.Equal(t, "payload", got.Val())

	miss := wrapper.Get(ctx, "ctx:missing")
	assert.Equal(t, redis.Nil, miss.Err())
	assert.False(t, wrapper.IsCircuitBreakerOpen())

	del := wrapper.Del(ctx, "ctx:int-1")
	require.NoError(t, del.Err())
	assert.Equal(t, int64(1), del.Val())
}

func TestRedisWrapper_OpensOnFailures(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	wrapper := NewRedisWrapper(client, "wrapper-failure-test", zaptest.NewLogger(t))
	ctx := context.Background()

	s.Close()
	threshold := int(RedisSettings().FailureThreshold)
	for i := 0; i < threshold; i++ {
		assert.Error(t, wrapper.Ping(ctx).Err())
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.ErrorIs(t, wrapper.Get(ctx, "any").Err(), ErrCircuitBreakerOpen)
}
