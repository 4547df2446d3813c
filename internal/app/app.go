// Package app assembles the store, the cache components and the API servers
// from a config.Config. The kvcache command and the integration tests share it.
package app

import (
	"context"

	"kvcache/internal/cache"
	"kvcache/internal/config"
	"kvcache/internal/kv"
	"kvcache/internal/replay"
	"kvcache/internal/webcache"
)

type App struct {
	Config *config.Config
	Store  kv.Store
	Cache  *cache.Cache
	Replay *replay.Engine
	Fetch  *webcache.Cache
}

// Load reads the config at path and opens the store it names.
func Load(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg)
}

// Open connects to the configured store and fails fast when it is unreachable.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	store := OpenStore(cfg)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return New(cfg, store), nil
}

func OpenStore(cfg *config.Config) kv.Store {
	if cfg.Backend == config.BackendMemory {
		return kv.NewMemoryStore(kv.DefaultMaxObjectBytes)
	}
	return kv.NewRedisStore(kv.RedisOptions{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout(),
	})
}

// New builds the components on an already opened store.
func New(cfg *config.Config, store kv.Store) *App {
	fetcher := webcache.NewHTTPFetcher(cfg.Fetch.Timeout(), cfg.Fetch.MaxBodyBytes)
	breaker := cfg.Fetch.Breaker
	return &App{
		Config: cfg,
		Store:  store,
		Cache:  cache.New(store),
		Replay: replay.New(store),
		Fetch: webcache.New(store, fetcher, webcache.Options{
			TTL:               cfg.Fetch.TTL(),
			CoalesceTimeout:   cfg.Fetch.CoalesceTimeout(),
			DisableCoalescing: cfg.Fetch.DisableCoalescing,
			Breaker: webcache.BreakerConfig{
				Enabled:            breaker.Enabled,
				FailureRatePercent: breaker.FailureRatePercent,
				MinimumRequests:    breaker.MinimumRequests,
				Window:             breaker.Window(),
				OpenDuration:       breaker.Open(),
				HalfOpenProbes:     breaker.HalfOpenProbes,
			},
		}),
	}
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
