package webcache

import (
	"context"
	"sync"
	"time"
)

const DefaultMaxFlights = 10000

// Flight is one in-progress external fetch that followers can wait on.
type Flight struct {
	done      chan struct{}
	body      []byte
	err       error
	startedAt time.Time
	waiters   int
}

// Coalescer collapses concurrent misses for the same URL into one fetch.
type Coalescer struct {
	mu         sync.Mutex
	flights    map[string]*Flight
	maxFlights int
}

func NewCoalescer(maxFlights int) *Coalescer {
	if maxFlights <= 0 {
		maxFlights = DefaultMaxFlights
	}
	return &Coalescer{flights: make(map[string]*Flight), maxFlights: maxFlights}
}

// Start returns the flight for key, whether the caller leads it, and whether
// coalescing is available at all.
func (c *Coalescer) Start(key string) (*Flight, bool, bool) {
	if c == nil {
		return nil, false, false
	}
	if key == "" {
		return nil, false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.flights[key]; ok {
		existing.waiters++
		return existing, false, true
	}
	if c.maxFlights > 0 && len(c.flights) >= c.maxFlights {
		return nil, false, false
	}
	flight := &Flight{done: make(chan struct{}), startedAt: time.Now()}
	c.flights[key] = flight
	return flight, true, true
}

func (c *Coalescer) Finish(key string, flight *Flight, body []byte, err error) {
	if c == nil || flight == nil {
		return
	}
	c.mu.Lock()
	if current, exists := c.flights[key]; exists && current == flight {
		delete(c.flights, key)
	}
	c.mu.Unlock()
	flight.body = body
	flight.err = err
	close(flight.done)
}

// Wait blocks until the flight finishes, the timeout passes or ctx is done.
// The final result reports whether the flight finished in time.
func (c *Coalescer) Wait(ctx context.Context, flight *Flight, timeout time.Duration) ([]byte, error, bool) {
	if flight == nil {
		return nil, nil, false
	}
	if timeout <= 0 {
		return nil, nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-flight.done:
		return flight.body, flight.err, true
	case <-ctx.Done():
		return nil, ctx.Err(), true
	case <-timer.C:
		return nil, nil, false
	}
}

// Waiters reports how many followers joined the flight for key.
func (c *Coalescer) Waiters(key string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if flight, ok := c.flights[key]; ok {
		return flight.waiters
	}
	return 0
}

func (c *Coalescer) InFlight() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}
