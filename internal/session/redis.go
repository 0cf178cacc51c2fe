package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "oauth:session:"

// RedisStore keeps sessions in Redis and relies on key expiry for cleanup.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis session store: ping: %w", err)
	}
	return newRedisStoreWithClient(rdb, opts.KeyPrefix), nil
}

func newRedisStoreWithClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + normalizeID(id)
}

func (r *RedisStore) Save(ctx context.Context, s *FlowSession) error {
	if normalizeID(s.ID) == "" {
		return ErrMissingID
	}
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis session store: encode session: %w", err)
	}
	if err = r.rdb.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis session store: save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*FlowSession, error) {
	if normalizeID(id) == "" {
		return nil, ErrNotFound
	}
	return r.decode(r.rdb.Get(ctx, r.key(id)).Bytes())
}

// Take claims the session with GETDEL.
func (r *RedisStore) Take(ctx context.Context, id string) (*FlowSession, error) {
	if normalizeID(id) == "" {
		return nil, ErrNotFound
	}
	return r.decode(r.rdb.GetDel(ctx, r.key(id)).Bytes())
}

func (r *RedisStore) decode(data []byte, err error) (*FlowSession, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis session store: load session: %w", err)
	}
	var s FlowSession
	if err = json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("redis session store: decode session: %w", err)
	}
	if s.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis session store: delete session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires keys on its own.
func (r *RedisStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
