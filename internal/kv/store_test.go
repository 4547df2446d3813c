package kv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kvcache/internal/kv"
	"kvcache/internal/testutil"
)

type storeFactory func(t *testing.T) kv.Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) kv.Store {
			return kv.NewMemoryStore(0)
		},
		"redis": func(t *testing.T) kv.Store {
			_, store := testutil.StartRedis(t)
			return store
		},
	}
}

func TestStoreSetGet(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
			}
			if err := store.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := store.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			value, ok, err := store.Get(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if string(value) != "v2" {
				t.Fatalf("expected v2, got %q", value)
			}
		})
	}
}

func TestStoreIncr(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			for i := int64(1); i <= 3; i++ {
				value, err := store.Incr(ctx, "counter")
				if err != nil {
					t.Fatalf("incr: %v", err)
				}
				if value != i {
					t.Fatalf("expected %d, got %d", i, value)
				}
			}
			raw, ok, err := store.Get(ctx, "counter")
			if err != nil || !ok {
				t.Fatalf("get counter: ok=%v err=%v", ok, err)
			}
			if string(raw) != "3" {
				t.Fatalf("expected counter text 3, got %q", raw)
			}

			if err := store.Set(ctx, "text", []byte("abc")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if _, err := store.Incr(ctx, "text"); err == nil {
				t.Fatalf("expected incr on non-integer to fail")
			}
		})
	}
}

func TestStoreIncrConcurrent(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Incr(ctx, "counter"); err != nil {
						t.Errorf("incr: %v", err)
					}
				}()
			}
			wg.Wait()

			raw, _, err := store.Get(ctx, "counter")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(raw) != "50" {
				t.Fatalf("expected 50, got %q", raw)
			}
		})
	}
}

func TestStoreListRange(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			empty, err := store.LRange(ctx, "list", 0, -1)
			if err != nil {
				t.Fatalf("lrange empty: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected empty list, got %d", len(empty))
			}

			for _, item := range []string{"a", "b", "c", "d"} {
				if err := store.RPush(ctx, "list", []byte(item)); err != nil {
					t.Fatalf("rpush: %v", err)
				}
			}

			cases := []struct {
				start, stop int64
				want        string
			}{
				{0, -1, "abcd"},
				{1, 2, "bc"},
				{-2, -1, "cd"},
				{2, 100, "cd"},
				{3, 1, ""},
				{10, 20, ""},
			}
			for _, tc := range cases {
				items, err := store.LRange(ctx, "list", tc.start, tc.stop)
				if err != nil {
					t.Fatalf("lrange %d %d: %v", tc.start, tc.stop, err)
				}
				got := ""
				for _, item := range items {
					got += string(item)
				}
				if got != tc.want {
					t.Fatalf("lrange %d %d: expected %q, got %q", tc.start, tc.stop, tc.want, got)
				}
			}
		})
	}
}

func TestStoreFlushDB(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			_ = store.Set(ctx, "a", []byte("1"))
			_ = store.RPush(ctx, "b", []byte("2"))
			if err := store.FlushDB(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "a"); ok {
				t.Fatalf("expected a to be flushed")
			}
			items, _ := store.LRange(ctx, "b", 0, -1)
			if len(items) != 0 {
				t.Fatalf("expected b to be flushed")
			}
		})
	}
}

func TestStoreSetEXRejectsNonPositiveTTL(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			err := store.SetEX(context.Background(), "k", []byte("v"), 0)
			if !errors.Is(err, kv.ErrInvalidTTL) {
				t.Fatalf("expected ErrInvalidTTL, got %v", err)
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := kv.NewMemoryStore(0).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.SetEX(ctx, "k", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("setex: %v", err)
	}
	now = now.Add(9 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected key before ttl")
	}
	now = now.Add(time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire at ttl")
	}
}

func TestMemoryStoreIncrAfterExpiryDropsTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := kv.NewMemoryStore(0).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.SetEX(ctx, "n", []byte("41"), 10*time.Second); err != nil {
		t.Fatalf("setex: %v", err)
	}
	now = now.Add(11 * time.Second)
	got, err := store.Incr(ctx, "n")
	if err != nil || got != 1 {
		t.Fatalf("expected incr to restart at 1, got %d err=%v", got, err)
	}
	now = now.Add(time.Hour)
	value, ok, err := store.Get(ctx, "n")
	if err != nil || !ok || string(value) != "1" {
		t.Fatalf("expected counter to persist without ttl, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	server, store := testutil.StartRedis(t)
	ctx := context.Background()

	if err := store.SetEX(ctx, "k", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("setex: %v", err)
	}
	server.FastForward(9 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected key before ttl")
	}
	server.FastForward(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire after ttl")
	}
}

func TestMemoryStoreWrongType(t *testing.T) {
	store := kv.NewMemoryStore(0)
	ctx := context.Background()

	_ = store.RPush(ctx, "list", []byte("a"))
	if _, _, err := store.Get(ctx, "list"); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	_ = store.Set(ctx, "text", []byte("a"))
	if err := store.RPush(ctx, "text", []byte("b")); !errors.Is(err, kv.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestMemoryStoreObjectLimitAndClose(t *testing.T) {
	store := kv.NewMemoryStore(4)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("12345")); !errors.Is(err, kv.ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryStoreValuesAreCopied(t *testing.T) {
	store := kv.NewMemoryStore(0)
	ctx := context.Background()

	value := []byte("abc")
	_ = store.Set(ctx, "k", value)
	value[0] = 'x'
	got, _, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("expected stored copy abc, got %q", got)
	}
}
