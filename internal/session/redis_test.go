package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	s := New("verifier", "state", "http://localhost:1455/auth/callback", "app", 10*time.Minute, time.Now())
	require.NoError(t, store.Save(ctx, s))
	assert.True(t, mr.Exists("test:"+s.ID))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CodeVerifier, got.CodeVerifier)
	assert.Equal(t, s.State, got.State)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStore_TakeRemovesKey(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	s := New("verifier", "state", "", "", 10*time.Minute, time.Now())
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Take(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CodeVerifier, got.CodeVerifier)
	assert.False(t, mr.Exists("test:"+s.ID))

	_, err = store.Take(ctx, s.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStore_KeyExpiresWithSession(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	s := New("verifier", "state", "", "", 10*time.Minute, time.Now())
	require.NoError(t, store.Save(ctx, s))

	ttl := mr.TTL("test:" + s.ID)
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	mr.FastForward(11 * time.Minute)
	_, err := store.Get(ctx, s.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisStore_ExpiredPayloadIsNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	s := New("verifier", "state", "", "", time.Minute, time.Now())
	require.NoError(t, store.Save(ctx, s))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := store.Get(ctx, s.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStore_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestNewRedisStoreWithClient_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, defaultRedisKeyPrefix+"abc", store.key("abc"))
}
