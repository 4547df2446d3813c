// Package kv defines the key-value store contract the cache components are
// built on, with a Redis adapter and an in-process implementation.
package kv

import (
	"context"
	"time"
)

// Store is the subset of a networked key-value service the cache needs.
// Keys and values are opaque byte sequences. Implementations must make Incr,
// Set and RPush atomic per call.
type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	// Get reports ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Incr(ctx context.Context, key string) (int64, error)
	RPush(ctx context.Context, key string, value []byte) error
	// LRange uses inclusive indexes; negative indexes count from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushDB(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
