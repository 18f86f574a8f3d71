package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	value, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)

	now = now.Add(24 * time.Hour)
	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	require.NoError(t, m.Delete(ctx, "a", "b"))
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)

	m.Clear()
	_, ok, _ = m.Get(ctx, "c")
	assert.False(t, ok)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	src := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", src, 0))
	src[0] = 'z'

	value, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(value))
	value[1] = 'z'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	type balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, SetJSON(ctx, m, Key("balance", "u1"), balance{Balance: "12.5"}, time.Minute))

	var out balance
	ok, err := GetJSON(ctx, m, Key("balance", "u1"), &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12.5", out.Balance)

	require.NoError(t, m.Set(ctx, "broken", []byte("{"), 0))
	ok, err = GetJSON(ctx, m, "broken", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	_, present, _ := m.Get(ctx, "broken")
	assert.False(t, present)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("CAMPUSCOIN_TEST_REDIS")
	if addr == "" {
		t.Skip("CAMPUSCOIN_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	c := NewRedis(client)
	key := Key("test", time.Now().Format("150405.000000"))
	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	value, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func exerciseStore(t *testing.T, s Store, key string) {
	ctx := context.Background()

	ok, err := s.SetNX(ctx, key, []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetNX(ctx, key, []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	value, ok, err := s.GetDel(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("first"), value)

	_, ok, err = s.GetDel(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	counter := key + ":attempts"
	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, counter, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	require.NoError(t, s.Delete(ctx, counter))
	n, err := s.Incr(ctx, counter, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, s.Delete(ctx, counter))
}

func TestMemoryIncrKeepsFirstExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, err := m.Incr(ctx, "n", time.Minute)
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	n, err := m.Incr(ctx, "n", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	now = now.Add(20 * time.Second)
	n, err = m.Incr(ctx, "n", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory(), "lock")
}

func TestMemorySetNXAfterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	ok, _ := m.SetNX(ctx, "lock", []byte("a"), time.Second)
	require.True(t, ok)
	now = now.Add(2 * time.Second)
	ok, _ = m.SetNX(ctx, "lock", []byte("b"), time.Second)
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CAMPUSCOIN_TEST_REDIS")
	if addr == "" {
		t.Skip("CAMPUSCOIN_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	exerciseStore(t, NewRedis(client), Key("test", "lock", time.Now().Format("150405.000000")))
}
