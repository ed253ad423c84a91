package sharedstate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore connects to REDIS_URL (default localhost:6379) and skips
// the test when no server is reachable.
func setupRedisStore(t *testing.T) (*RedisStore, string) {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := NewRedisStoreFromURL(ctx, url)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", url, err)
	}
	t.Cleanup(func() { s.Close() })
	return s, "test:" + uuid.NewString() + ":"
}

func TestRedisStore_SetNXAndCAS(t *testing.T) {
	s, prefix := setupRedisStore(t)
	ctx := context.Background()
	key := prefix + "cas"
	defer s.Del(ctx, key)

	ok, err := s.SetNX(ctx, key, "v1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, key, "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, key, "stale", "v2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, key, "v1", "v2", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	v, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", v)
}

func TestRedisStore_SRemIfAbsent(t *testing.T) {
	s, prefix := setupRedisStore(t)
	ctx := context.Background()
	set, guard := prefix+"set", prefix+"guard"
	defer s.Del(ctx, set, guard)

	require.NoError(t, s.SAdd(ctx, set, "a"))
	require.NoError(t, s.Set(ctx, guard, "live", time.Minute))

	removed, err := s.SRemIfAbsent(ctx, set, "a", guard)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.Del(ctx, guard))
	removed, err = s.SRemIfAbsent(ctx, set, "a", guard)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRedisStore_AppendCapped(t *testing.T) {
	s, prefix := setupRedisStore(t)
	ctx := context.Background()
	key := prefix + "list"
	defer s.Del(ctx, key)

	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AppendCapped(ctx, key, v, 2, time.Minute))
	}
	vals, err := s.Tail(ctx, key, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, vals)
}

func TestRedisStore_PubSub(t *testing.T) {
	s, prefix := setupRedisStore(t)
	ctx := context.Background()
	channel := prefix + "chan"

	sub, err := s.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, channel, []byte("hello")))

	select {
	case got := <-sub.Messages():
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published payload")
	}
}
