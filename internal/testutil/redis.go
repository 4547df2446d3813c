package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kvcache/internal/kv"
)

// StartRedis runs an in-process Redis server for the duration of the test.
// Use the returned server's FastForward to expire keys.
func StartRedis(t *testing.T) (*miniredis.Miniredis, *kv.RedisStore) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := kv.NewRedisStoreFromClient(client)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return server, store
}
