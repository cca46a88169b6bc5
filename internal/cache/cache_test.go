package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stats struct {
	Sessions int      `json:"sessions"`
	Words    []string `json:"words"`
}

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, MinTTL, ClampTTL(time.Second))
	assert.Equal(t, MaxTTL, ClampTTL(time.Hour))
	assert.Equal(t, 10*time.Minute, ClampTTL(10*time.Minute))
	assert.Equal(t, MinTTL, New(NewMemory(), "x", 0).TTL())
}

func TestRedisCache_RoundTripAndNamespace(t *testing.T) {
	backend, mr := setupRedis(t)
	ctx := context.Background()
	c := New(backend, "dashboard", 10*time.Minute)

	require.NoError(t, c.Set(ctx, "user-1", stats{Sessions: 3, Words: []string{"fluent"}}))
	assert.True(t, mr.Exists("dashboard:user-1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("dashboard:user-1"))

	var got stats
	ok, err := c.Get(ctx, "user-1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Sessions)

	other := New(backend, "quiz", 10*time.Minute)
	ok, err = other.Get(ctx, "user-1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Expires(t *testing.T) {
	backend, mr := setupRedis(t)
	ctx := context.Background()
	c := New(backend, "ns", time.Minute)
	require.NoError(t, c.Set(ctx, "k", 1))
	mr.FastForward(MinTTL + time.Second)
	var v int
	ok, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	backend, _ := setupRedis(t)
	ctx := context.Background()
	c := New(backend, "ns", MinTTL)
	require.NoError(t, c.Set(ctx, "k", "v"))
	require.NoError(t, c.Delete(ctx, "k"))
	var v string
	ok, _ := c.Get(ctx, "k", &v)
	assert.False(t, ok)
}

func TestMemoryCache_Expires(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	c := New(m, "ns", MinTTL)

	require.NoError(t, c.Set(ctx, "k", "v"))
	var v string
	ok, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(MinTTL)
	ok, err = c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, m.Len())
}

func TestCache_EmptyKey(t *testing.T) {
	c := New(NewMemory(), "ns", MinTTL)
	assert.ErrorIs(t, c.Set(context.Background(), "", 1), ErrInvalidKey)
	var v int
	_, err := c.Get(context.Background(), "", &v)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCache_DecodeError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "ns:k", []byte("not json"), MinTTL))
	var v int
	_, err := New(m, "ns", MinTTL).Get(ctx, "k", &v)
	assert.Error(t, err)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = DialRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
