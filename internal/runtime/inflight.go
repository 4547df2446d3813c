package runtime

import (
	"context"
	"sync"
)

// InflightTracker counts API requests still being served so shutdown can
// wait for them. The nil tracker is valid and always idle.
type InflightTracker struct {
	mu     sync.Mutex
	active int64
	idle   chan struct{}
}

func NewInflightTracker() *InflightTracker {
	idle := make(chan struct{})
	close(idle)
	return &InflightTracker{idle: idle}
}

// Inc marks a request as started.
func (t *InflightTracker) Inc() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	if t.active == 1 {
		t.idle = make(chan struct{})
	}
}

// Dec marks a request as finished. Unbalanced calls are ignored.
func (t *InflightTracker) Dec() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		return
	}
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

func (t *InflightTracker) Active() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Wait blocks until no request is active or ctx ends.
func (t *InflightTracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
