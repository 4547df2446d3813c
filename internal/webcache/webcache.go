// Package webcache caches externally fetched web content in a kv.Store for a
// fixed time-to-live and counts every access per URL.
package webcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/kv"
	"kvcache/internal/obs"
)

const (
	DefaultTTL             = 10 * time.Second
	DefaultCoalesceTimeout = 5 * time.Second
)

// ErrFetch matches every external fetch failure returned by Cache.Fetch.
var ErrFetch = errors.New("fetch failed")

type FetchError struct {
	URL      string
	Category string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

type Options struct {
	TTL             time.Duration
	CoalesceTimeout time.Duration
	MaxFlights      int
	// DisableCoalescing makes every concurrent miss fetch on its own.
	DisableCoalescing bool
	Breaker           BreakerConfig
}

type Cache struct {
	store           kv.Store
	fetcher         Fetcher
	ttl             time.Duration
	coalesceTimeout time.Duration
	coalescer       *Coalescer
	breakers        *HostBreakers
}

func New(store kv.Store, fetcher Fetcher, opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	coalesceTimeout := opts.CoalesceTimeout
	if coalesceTimeout <= 0 {
		coalesceTimeout = DefaultCoalesceTimeout
	}
	var coalescer *Coalescer
	if !opts.DisableCoalescing {
		coalescer = NewCoalescer(opts.MaxFlights)
	}
	return &Cache{
		store:           store,
		fetcher:         fetcher,
		ttl:             ttl,
		coalesceTimeout: coalesceTimeout,
		coalescer:       coalescer,
		breakers:        NewHostBreakers(opts.Breaker),
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Fetch returns the body for url, from the store when a fresh copy exists and
// from the network otherwise. The access counter for url is incremented once
// per call, before the lookup, so hits, misses and failures all count.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (string, error) {
	start := time.Now()
	url := NormalizeURL(rawURL)
	if url == "" {
		return "", platformerrors.New(platformerrors.CodeInvalidInput, "url is empty")
	}
	host := hostLabel(url)
	metrics := obs.DefaultMetrics()

	count, err := c.store.Incr(ctx, CountKey(url))
	if err != nil {
		return "", err
	}

	cached, ok, err := c.store.Get(ctx, CacheKey(url))
	if err != nil {
		metrics.RecordFetchRequest(host, "error")
		logFetch(url, "error", count, start, err)
		return "", err
	}
	if ok {
		metrics.RecordFetchRequest(host, "hit")
		logFetch(url, "hit", count, start, nil)
		return string(cached), nil
	}

	body, err := c.load(ctx, url, host)
	if err != nil {
		metrics.RecordFetchRequest(host, "error")
		logFetch(url, "error", count, start, err)
		return "", err
	}
	metrics.RecordFetchRequest(host, "miss")
	logFetch(url, "miss", count, start, nil)
	return string(body), nil
}

// AccessCount returns how many times url has been requested.
func (c *Cache) AccessCount(ctx context.Context, rawURL string) (int64, error) {
	url := NormalizeURL(rawURL)
	raw, ok, err := c.store.Get(ctx, CountKey(url))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "access counter is not an integer")
	}
	return count, nil
}

func (c *Cache) load(ctx context.Context, url string, host string) ([]byte, error) {
	flight, leader, ok := c.coalescer.Start(url)
	if ok && !leader {
		body, err, finished := c.coalescer.Wait(ctx, flight, c.coalesceTimeout)
		if finished {
			// The leader's own cancellation says nothing about this caller.
			if err != nil && ctx.Err() == nil && ClassifyError(err) == "canceled" {
				obs.DefaultMetrics().RecordFetchCoalesceBreakaway(host)
				return c.fetchAndStore(ctx, url, host)
			}
			if err != nil && !errors.Is(err, ErrFetch) {
				err = newFetchError(url, err)
			}
			return body, err
		}
		obs.DefaultMetrics().RecordFetchCoalesceBreakaway(host)
		return c.fetchAndStore(ctx, url, host)
	}
	if !leader {
		return c.fetchAndStore(ctx, url, host)
	}

	var (
		body []byte
		err  error
	)
	defer func() {
		c.coalescer.Finish(url, flight, body, err)
	}()
	body, err = c.fetchAndStore(ctx, url, host)
	return body, err
}

func (c *Cache) fetchAndStore(ctx context.Context, url string, host string) ([]byte, error) {
	metrics := obs.DefaultMetrics()
	if !c.breakers.Allow(host) {
		metrics.RecordFetchError(host, ClassifyError(ErrBreakerOpen))
		return nil, newFetchError(url, ErrBreakerOpen)
	}
	start := time.Now()
	body, err := c.fetcher.Fetch(ctx, url)
	metrics.ObserveFetch(host, time.Since(start))
	if err != nil {
		category := ClassifyError(err)
		if category != "canceled" {
			c.breakers.Report(host, false)
		}
		metrics.RecordFetchError(host, category)
		return nil, newFetchError(url, err)
	}
	c.breakers.Report(host, true)

	if err := c.store.SetEX(ctx, CacheKey(url), body, c.ttl); err != nil {
		metrics.RecordFetchStoreFail(host)
		obs.LogEvent(obs.Event{
			Name:      "fetch_store_fail",
			URL:       url,
			ErrorCode: string(platformerrors.GetCode(err)),
			Err:       err,
		})
	}
	return body, nil
}

func newFetchError(url string, cause error) error {
	category := ClassifyError(cause)
	code := platformerrors.CodeNetwork
	switch category {
	case "timeout":
		code = platformerrors.CodeTimeout
	case "status", "too_large", "breaker_open":
		code = platformerrors.CodeUnavailable
	}
	return platformerrors.WrapWithContext(&FetchError{URL: url, Category: category, Err: cause}, code, "fetch failed", map[string]interface{}{
		"url":      url,
		"category": category,
	})
}

func logFetch(url string, status string, count int64, start time.Time, err error) {
	event := obs.Event{
		Name:        "fetch",
		URL:         url,
		CacheStatus: status,
		AccessCount: count,
		Duration:    time.Since(start),
		Err:         err,
	}
	if err != nil {
		event.ErrorCode = string(platformerrors.GetCode(err))
	}
	obs.LogEvent(event)
}

// Breakers exposes the per-host circuit breakers; nil when disabled.
func (c *Cache) Breakers() *HostBreakers {
	return c.breakers
}

// Coalescer exposes the in-flight fetch tracker; nil when coalescing is off.
func (c *Cache) Coalescer() *Coalescer {
	return c.coalescer
}
