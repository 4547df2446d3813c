// Package ratelimit throttles API clients by remote IP. Each client gets a
// token bucket; clients that fail authentication too often are locked out for
// a while.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

const (
	defaultRPS           = 5
	defaultBurst         = 10
	defaultMaxFailures   = 20
	defaultBlockDuration = 10 * time.Minute
	maxTrackedClients    = 10000
)

type Config struct {
	RPS           int
	Burst         int
	MaxFailures   int
	BlockDuration time.Duration
	Now           func() time.Time
}

type Limiter struct {
	mu          sync.Mutex
	clients     map[string]*client
	rate        float64
	burst       float64
	maxFailures int
	blockFor    time.Duration
	now         func() time.Time
}

type client struct {
	tokens       float64
	refilledAt   time.Time
	failures     int
	blockedUntil time.Time
}

func New(cfg Config) *Limiter {
	l := &Limiter{
		clients:     make(map[string]*client),
		rate:        float64(orDefault(cfg.RPS, defaultRPS)),
		burst:       float64(orDefault(cfg.Burst, defaultBurst)),
		maxFailures: orDefault(cfg.MaxFailures, defaultMaxFailures),
		blockFor:    cfg.BlockDuration,
		now:         cfg.Now,
	}
	if l.blockFor <= 0 {
		l.blockFor = defaultBlockDuration
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Allow spends one token of the client at addr. A nil Limiter allows
// everything.
func (l *Limiter) Allow(addr string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(ClientKey(addr), now)
	if now.Before(c.blockedUntil) {
		return false
	}
	c.tokens = min(l.burst, c.tokens+now.Sub(c.refilledAt).Seconds()*l.rate)
	c.refilledAt = now
	if c.tokens < 1 {
		return false
	}
	c.tokens--
	return true
}

// RecordFailure counts a failed attempt and blocks the client once it reaches
// MaxFailures. Failures while blocked do not extend the block.
func (l *Limiter) RecordFailure(addr string) {
	if l == nil {
		return
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(ClientKey(addr), now)
	if now.Before(c.blockedUntil) {
		return
	}
	c.failures++
	if c.failures >= l.maxFailures {
		c.failures = 0
		c.blockedUntil = now.Add(l.blockFor)
	}
}

func (l *Limiter) ResetFailures(addr string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if c := l.clients[ClientKey(addr)]; c != nil {
		c.failures = 0
	}
}

func (l *Limiter) Blocked(addr string) bool {
	if l == nil {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clients[ClientKey(addr)]
	return c != nil && now.Before(c.blockedUntil)
}

// Tracked returns how many clients currently hold state.
func (l *Limiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) clientLocked(key string, now time.Time) *client {
	c := l.clients[key]
	if c != nil {
		return c
	}
	if len(l.clients) >= maxTrackedClients {
		l.pruneLocked(now)
	}
	c = &client{tokens: l.burst, refilledAt: now}
	l.clients[key] = c
	return c
}

// pruneLocked drops clients whose bucket is full again and who are neither
// blocked nor carrying failures; their state equals a fresh client's.
func (l *Limiter) pruneLocked(now time.Time) {
	refill := time.Duration(l.burst / l.rate * float64(time.Second))
	for key, c := range l.clients {
		if c.failures == 0 && !now.Before(c.blockedUntil) && now.Sub(c.refilledAt) >= refill {
			delete(l.clients, key)
		}
	}
}

// ClientKey reduces a remote address to its IP.
func ClientKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func orDefault(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
