package webcache

import (
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

var ErrBreakerOpen = platformerrors.New(platformerrors.CodeUnavailable, "host breaker open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota + 1
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig trips a host's breaker once FailureRatePercent of at least
// MinimumRequests fetches in Window failed. An open breaker rejects fetches
// for OpenDuration, then lets HalfOpenProbes fetches through; all of them must
// succeed to close it again.
type BreakerConfig struct {
	Enabled            bool
	FailureRatePercent int
	MinimumRequests    int
	Window             time.Duration
	OpenDuration       time.Duration
	HalfOpenProbes     int
	Now                func() time.Time
}

type HostBreakers struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	now   func() time.Time
	hosts map[string]*hostBreaker
}

type hostBreaker struct {
	state        BreakerState
	windowStart  time.Time
	requests     int
	failures     int
	openUntil    time.Time
	probes       int
	probeSuccess int
}

// NewHostBreakers returns nil when cfg is disabled; a nil *HostBreakers
// allows every fetch.
func NewHostBreakers(cfg BreakerConfig) *HostBreakers {
	if !cfg.Enabled {
		return nil
	}
	if cfg.FailureRatePercent <= 0 {
		cfg.FailureRatePercent = 50
	}
	if cfg.MinimumRequests <= 0 {
		cfg.MinimumRequests = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 5 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &HostBreakers{cfg: cfg, now: now, hosts: make(map[string]*hostBreaker)}
}

func (b *HostBreakers) Allow(host string) bool {
	if b == nil {
		return true
	}
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	hb := b.hosts[host]
	if hb == nil {
		return true
	}
	switch hb.state {
	case BreakerOpen:
		if now.Before(hb.openUntil) {
			return false
		}
		hb.state = BreakerHalfOpen
		hb.probes = 0
		hb.probeSuccess = 0
		fallthrough
	case BreakerHalfOpen:
		if hb.probes >= b.cfg.HalfOpenProbes {
			return false
		}
		hb.probes++
		return true
	default:
		return true
	}
}

func (b *HostBreakers) Report(host string, success bool) {
	if b == nil {
		return
	}
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	hb := b.hosts[host]
	if hb == nil {
		if success {
			return
		}
		hb = &hostBreaker{state: BreakerClosed, windowStart: now}
		b.hosts[host] = hb
	}

	switch hb.state {
	case BreakerClosed:
		if now.Sub(hb.windowStart) > b.cfg.Window {
			hb.windowStart = now
			hb.requests = 0
			hb.failures = 0
		}
		hb.requests++
		if !success {
			hb.failures++
		}
		if hb.requests >= b.cfg.MinimumRequests && hb.failures*100/hb.requests >= b.cfg.FailureRatePercent {
			hb.state = BreakerOpen
			hb.openUntil = now.Add(b.cfg.OpenDuration)
			return
		}
		if hb.failures == 0 {
			delete(b.hosts, host)
		}
	case BreakerHalfOpen:
		if !success {
			hb.state = BreakerOpen
			hb.openUntil = now.Add(b.cfg.OpenDuration)
			return
		}
		hb.probeSuccess++
		if hb.probeSuccess >= b.cfg.HalfOpenProbes {
			delete(b.hosts, host)
		}
	}
}

func (b *HostBreakers) State(host string) BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if hb := b.hosts[host]; hb != nil {
		return hb.state
	}
	return BreakerClosed
}
