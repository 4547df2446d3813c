package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dialTimeout,
	})
	return &RedisStore{client: client}
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return wrapStoreError(r.client.Set(ctx, key, value, 0).Err(), "set", key)
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(err, "get", key)
	}
	return value, true, nil
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	value, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapStoreError(err, "incr", key)
	}
	return value, nil
}

func (r *RedisStore) RPush(ctx context.Context, key string, value []byte) error {
	return wrapStoreError(r.client.RPush(ctx, key, value).Err(), "rpush", key)
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapStoreError(err, "lrange", key)
	}
	result := make([][]byte, 0, len(values))
	for _, value := range values {
		result = append(result, []byte(value))
	}
	return result, nil
}

func (r *RedisStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return wrapStoreError(r.client.Set(ctx, key, value, ttl).Err(), "setex", key)
}

func (r *RedisStore) FlushDB(ctx context.Context) error {
	return wrapStoreError(r.client.FlushDB(ctx).Err(), "flushdb", "")
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return wrapStoreError(r.client.Ping(ctx).Err(), "ping", "")
}

func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
