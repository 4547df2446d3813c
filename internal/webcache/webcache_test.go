package webcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/kv"
	"kvcache/internal/testutil"
)

func TestFetchHitAndMiss(t *testing.T) {
	_, store := testutil.StartRedis(t)
	upstream := testutil.StartCountingUpstream(t, "<html>v1</html>")
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		body, err := c.Fetch(ctx, upstream.URL)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if body != "<html>v1</html>" {
			t.Fatalf("unexpected body %q", body)
		}
	}
	if upstream.Hits() != 1 {
		t.Fatalf("expected 1 external fetch, got %d", upstream.Hits())
	}
	count, err := c.AccessCount(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("access count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected access count 2, got %d", count)
	}
}

func TestFetchExpiresAfterTTL(t *testing.T) {
	server, store := testutil.StartRedis(t)
	upstream := testutil.StartCountingUpstream(t, "v1")
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})
	ctx := context.Background()

	if _, err := c.Fetch(ctx, upstream.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	upstream.SetBody("v2")

	server.FastForward(9 * time.Second)
	body, _ := c.Fetch(ctx, upstream.URL)
	if body != "v1" {
		t.Fatalf("expected cached v1 before ttl, got %q", body)
	}

	server.FastForward(2 * time.Second)
	body, _ = c.Fetch(ctx, upstream.URL)
	if body != "v2" {
		t.Fatalf("expected refreshed v2 after ttl, got %q", body)
	}
	if upstream.Hits() != 2 {
		t.Fatalf("expected 2 external fetches, got %d", upstream.Hits())
	}
	if count, _ := c.AccessCount(ctx, upstream.URL); count != 3 {
		t.Fatalf("expected access count 3, got %d", count)
	}
}

func TestFetchCounterDoesNotExpire(t *testing.T) {
	server, store := testutil.StartRedis(t)
	upstream := testutil.StartCountingUpstream(t, "v1")
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})
	ctx := context.Background()

	_, _ = c.Fetch(ctx, upstream.URL)
	server.FastForward(time.Hour)
	if count, _ := c.AccessCount(ctx, upstream.URL); count != 1 {
		t.Fatalf("expected counter to survive expiry, got %d", count)
	}
}

func TestFetchNormalizesTrailingSlash(t *testing.T) {
	store := kv.NewMemoryStore(0)
	upstream := testutil.StartCountingUpstream(t, "body")
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})
	ctx := context.Background()

	if _, err := c.Fetch(ctx, upstream.URL+"/"); err != nil {
		t.Fatalf("fetch with slash: %v", err)
	}
	if _, err := c.Fetch(ctx, upstream.URL); err != nil {
		t.Fatalf("fetch without slash: %v", err)
	}
	if upstream.Hits() != 1 {
		t.Fatalf("expected one shared cache slot, got %d fetches", upstream.Hits())
	}
	count, _ := c.AccessCount(ctx, upstream.URL+"//")
	if count != 2 {
		t.Fatalf("expected shared counter 2, got %d", count)
	}
}

func TestFetchFailureCountsAndDoesNotCache(t *testing.T) {
	store := kv.NewMemoryStore(0)
	upstream := testutil.StartCountingUpstream(t, "oops")
	upstream.SetStatus(http.StatusInternalServerError)
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})
	ctx := context.Background()

	_, err := c.Fetch(ctx, upstream.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status error 500, got %v", err)
	}
	if platformerrors.GetCode(err) != platformerrors.CodeUnavailable {
		t.Fatalf("expected unavailable code, got %s", platformerrors.GetCode(err))
	}
	if _, ok, _ := store.Get(ctx, CacheKey(NormalizeURL(upstream.URL))); ok {
		t.Fatalf("expected failed fetch not to populate the cache")
	}
	if count, _ := c.AccessCount(ctx, upstream.URL); count != 1 {
		t.Fatalf("expected failed fetch to count, got %d", count)
	}

	upstream.SetStatus(http.StatusOK)
	body, err := c.Fetch(ctx, upstream.URL)
	if err != nil || body != "oops" {
		t.Fatalf("expected recovery fetch, got %q err=%v", body, err)
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	store := kv.NewMemoryStore(0)
	url, closeFn := testutil.StartUpstream(t, nil)
	closeFn()
	c := New(store, NewHTTPFetcher(time.Second, 0), Options{})

	_, err := c.Fetch(context.Background(), url)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Category != "dial" {
		t.Fatalf("expected dial category, got %v", err)
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	store := kv.NewMemoryStore(0)
	c := New(store, FetchFunc(func(context.Context, string) ([]byte, error) {
		t.Fatalf("fetcher must not be called")
		return nil, nil
	}), Options{})

	_, err := c.Fetch(context.Background(), " / ")
	if platformerrors.GetCode(err) != platformerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFetchBodyLimit(t *testing.T) {
	store := kv.NewMemoryStore(0)
	upstream := testutil.StartCountingUpstream(t, strings.Repeat("x", 64))
	c := New(store, NewHTTPFetcher(time.Second, 16), Options{})

	_, err := c.Fetch(context.Background(), upstream.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Category != "too_large" {
		t.Fatalf("expected too_large fetch error, got %v", err)
	}
}

type failingSetEXStore struct {
	kv.Store
}

func (s failingSetEXStore) SetEX(context.Context, string, []byte, time.Duration) error {
	return errors.New("read only")
}

func TestFetchReturnsBodyWhenStoreWriteFails(t *testing.T) {
	store := failingSetEXStore{Store: kv.NewMemoryStore(0)}
	c := New(store, FetchFunc(func(context.Context, string) ([]byte, error) {
		return []byte("fresh"), nil
	}), Options{})

	body, err := c.Fetch(context.Background(), "http://example.test/page")
	if err != nil || body != "fresh" {
		t.Fatalf("expected body despite store failure, got %q err=%v", body, err)
	}
}

func TestFetchCoalescesConcurrentMisses(t *testing.T) {
	store := kv.NewMemoryStore(0)
	release := make(chan struct{})
	var mu sync.Mutex
	fetches := 0
	c := New(store, FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		<-release
		return []byte("shared"), nil
	}), Options{CoalesceTimeout: 5 * time.Second})
	ctx := context.Background()
	const url = "http://example.test/slow"
	const followers = 4

	var wg sync.WaitGroup
	results := make(chan string, followers+1)
	fetch := func() {
		defer wg.Done()
		body, err := c.Fetch(ctx, url)
		if err != nil {
			results <- "error: " + err.Error()
			return
		}
		results <- body
	}

	wg.Add(1)
	go fetch()
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if c.Coalescer().InFlight() != 1 {
			return fmt.Errorf("leader not in flight")
		}
		return nil
	})
	for i := 0; i < followers; i++ {
		wg.Add(1)
		go fetch()
	}
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if got := c.Coalescer().Waiters(url); got != followers {
			return fmt.Errorf("expected %d waiters, got %d", followers, got)
		}
		return nil
	})
	close(release)
	wg.Wait()
	close(results)

	for body := range results {
		if body != "shared" {
			t.Fatalf("unexpected result %q", body)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected 1 external fetch, got %d", fetches)
	}
	if count, _ := c.AccessCount(ctx, url); count != followers+1 {
		t.Fatalf("expected access count %d, got %d", followers+1, count)
	}
}

func TestFetchFollowerBreaksAwayAfterTimeout(t *testing.T) {
	store := kv.NewMemoryStore(0)
	release := make(chan struct{})
	var mu sync.Mutex
	fetches := 0
	c := New(store, FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		mu.Lock()
		fetches++
		first := fetches == 1
		mu.Unlock()
		if first {
			<-release
		}
		return []byte("body"), nil
	}), Options{CoalesceTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	const url = "http://example.test/stuck"

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Fetch(ctx, url)
	}()
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if c.Coalescer().InFlight() != 1 {
			return fmt.Errorf("leader not in flight")
		}
		return nil
	})

	body, err := c.Fetch(ctx, url)
	if err != nil || body != "body" {
		t.Fatalf("expected follower to fetch on its own, got %q err=%v", body, err)
	}
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if fetches != 2 {
		t.Fatalf("expected 2 fetches after breakaway, got %d", fetches)
	}
}

func TestFetchFollowerRefetchesWhenLeaderCanceled(t *testing.T) {
	store := kv.NewMemoryStore(0)
	var mu sync.Mutex
	fetches := 0
	c := New(store, FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		mu.Lock()
		fetches++
		first := fetches == 1
		mu.Unlock()
		if first {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte("body"), nil
	}), Options{CoalesceTimeout: 5 * time.Second})
	const url = "http://example.test/canceled"

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(leaderCtx, url)
		leaderErr <- err
	}()
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if c.Coalescer().InFlight() != 1 {
			return fmt.Errorf("leader not in flight")
		}
		return nil
	})

	type result struct {
		body string
		err  error
	}
	followerDone := make(chan result, 1)
	go func() {
		body, err := c.Fetch(context.Background(), url)
		followerDone <- result{body: body, err: err}
	}()
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if got := c.Coalescer().Waiters(url); got != 1 {
			return fmt.Errorf("expected 1 waiter, got %d", got)
		}
		return nil
	})
	cancel()

	if err := <-leaderErr; err == nil {
		t.Fatalf("expected leader error after cancel")
	}
	got := <-followerDone
	if got.err != nil || got.body != "body" {
		t.Fatalf("expected follower to refetch, got %q err=%v", got.body, got.err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetches)
	}
}

func TestTTLDefault(t *testing.T) {
	c := New(kv.NewMemoryStore(0), FetchFunc(nil), Options{})
	if c.TTL() != 10*time.Second {
		t.Fatalf("expected 10s default ttl, got %s", c.TTL())
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"http://x/":       "http://x",
		"http://x":        "http://x",
		" http://x/a/// ": "http://x/a",
		"http://x/a?b=1/": "http://x/a?b=1",
		"":                "",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Fatalf("normalize %q: expected %q, got %q", in, want, got)
		}
	}
}
