package obs

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultIdentityTopK      = 100
	defaultHostTopK          = 200
	defaultRecomputeInterval = 10 * time.Second
)

// TopK caps label cardinality: only the most frequently seen identities and
// hosts keep their own label value, everything else reports as "other".
type TopK struct {
	mu             sync.Mutex
	identityCounts map[string]int64
	hostCounts     map[string]int64
	identityTop    map[string]struct{}
	hostTop        map[string]struct{}
	identityK      int
	hostK          int
	interval       time.Duration
	lastRecompute  time.Time
	stop           chan struct{}
	stopOnce       sync.Once
}

func NewTopK(identityK int, hostK int, interval time.Duration) *TopK {
	if identityK <= 0 {
		identityK = defaultIdentityTopK
	}
	if hostK <= 0 {
		hostK = defaultHostTopK
	}
	if interval <= 0 {
		interval = defaultRecomputeInterval
	}

	t := &TopK{
		identityCounts: make(map[string]int64),
		hostCounts:     make(map[string]int64),
		identityTop:    make(map[string]struct{}),
		hostTop:        make(map[string]struct{}),
		identityK:      identityK,
		hostK:          hostK,
		interval:       interval,
		stop:           make(chan struct{}),
	}
	go t.recomputeLoop()
	return t
}

func (t *TopK) ObserveHit(identity string, host string) {
	if t == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	if identity != "" && identity != "none" {
		t.identityCounts[identity]++
		if len(t.identityTop) < t.identityK {
			t.identityTop[identity] = struct{}{}
		}
	}
	if host != "" && host != "none" {
		t.hostCounts[host]++
		if len(t.hostTop) < t.hostK {
			t.hostTop[host] = struct{}{}
		}
	}
	if time.Since(t.lastRecompute) >= t.interval {
		t.recomputeLocked()
		t.lastRecompute = time.Now()
	}
}

func (t *TopK) CanonIdentity(identity string) string {
	if identity == "" || identity == "none" {
		return "none"
	}
	return t.canon(identity, func() map[string]struct{} { return t.identityTop })
}

func (t *TopK) CanonHost(host string) string {
	if host == "" || host == "none" {
		return "none"
	}
	return t.canon(host, func() map[string]struct{} { return t.hostTop })
}

func (t *TopK) Close() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

func (t *TopK) canon(value string, getTop func() map[string]struct{}) (result string) {
	result = "other"
	if t == nil {
		return result
	}
	defer func() {
		if recover() != nil {
			result = "other"
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := getTop()[value]; ok {
		return value
	}
	return result
}

func (t *TopK) recomputeLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.recompute()
		}
	}
}

func (t *TopK) recompute() {
	defer func() {
		_ = recover()
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.recomputeLocked()
	t.lastRecompute = time.Now()
}

func (t *TopK) recomputeLocked() {
	t.identityTop = buildTop(t.identityCounts, t.identityK)
	t.hostTop = buildTop(t.hostCounts, t.hostK)
}

func buildTop(counts map[string]int64, limit int) map[string]struct{} {
	type pair struct {
		key   string
		count int64
	}
	items := make([]pair, 0, len(counts))
	for key, count := range counts {
		items = append(items, pair{key: key, count: count})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].count == items[j].count {
			return items[i].key < items[j].key
		}
		return items[i].count > items[j].count
	})

	if limit > len(items) {
		limit = len(items)
	}
	result := make(map[string]struct{}, limit)
	for i := 0; i < limit; i++ {
		result[items[i].key] = struct{}{}
	}
	return result
}
