package credential

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Window(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "K"))
	require.NoError(t, l.Fail(ctx, "K"))
	n, _ := l.Failures(ctx, "K")
	assert.Equal(t, 2, n)

	n, _ = l.Failures(ctx, "OTHER")
	assert.Equal(t, 0, n)

	now = now.Add(61 * time.Second)
	n, _ = l.Failures(ctx, "K")
	assert.Equal(t, 0, n)

	require.NoError(t, l.Fail(ctx, "K"))
	require.NoError(t, l.Reset(ctx, "K"))
	n, _ = l.Failures(ctx, "K")
	assert.Equal(t, 0, n)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, time.Minute)
	ctx := context.Background()

	n, err := l.Failures(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, l.Fail(ctx, "K"))
	require.NoError(t, l.Fail(ctx, "K"))
	n, err = l.Failures(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, time.Minute, mr.TTL("portal:attempts:K"))

	mr.FastForward(2 * time.Minute)
	n, err = l.Failures(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, l.Fail(ctx, "K"))
	require.NoError(t, l.Reset(ctx, "K"))
	assert.False(t, mr.Exists("portal:attempts:K"))
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	l := NewRedisLimiter(client, time.Minute)
	_, err := l.Failures(context.Background(), "K")
	assert.Error(t, err)
}
