package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const DefaultMaxObjectBytes int64 = 50 * 1024 * 1024

type entryKind int

const (
	kindString entryKind = iota
	kindList
)

type entry struct {
	kind      entryKind
	value     []byte
	list      [][]byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps everything in process memory. Expired entries are removed
// lazily on access.
type MemoryStore struct {
	mu             sync.RWMutex
	entries        map[string]entry
	maxObjectBytes int64
	now            func() time.Time
	closed         bool
}

func NewMemoryStore(maxObjectBytes int64) *MemoryStore {
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	return &MemoryStore{
		entries:        make(map[string]entry),
		maxObjectBytes: maxObjectBytes,
		now:            time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if m == nil || now == nil {
		return m
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	return m.set(ctx, key, value, time.Time{})
}

func (m *MemoryStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return m.set(ctx, key, value, m.clock().Add(ttl))
}

func (m *MemoryStore) set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if m.maxObjectBytes > 0 && int64(len(value)) > m.maxObjectBytes {
		return ErrObjectTooLarge
	}
	m.mu.Lock()
	m.entries[key] = entry{kind: kindString, value: cloneBytes(value), expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := m.check(ctx); err != nil {
		return nil, false, err
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if e.kind != kindString {
		return nil, false, ErrWrongType
	}
	return cloneBytes(e.value), true, nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(0)
	e, ok := m.entries[key]
	if ok && e.expired(m.now()) {
		delete(m.entries, key)
		e, ok = entry{}, false
	}
	if ok {
		if e.kind != kindString {
			return 0, ErrWrongType
		}
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = parsed
	}
	current++
	e.kind = kindString
	e.value = []byte(strconv.FormatInt(current, 10))
	m.entries[key] = e
	return current, nil
}

func (m *MemoryStore) RPush(ctx context.Context, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && e.expired(m.now()) {
		ok = false
	}
	if !ok {
		e = entry{kind: kindList}
	}
	if e.kind != kindList {
		return ErrWrongType
	}
	e.list = append(e.list, cloneBytes(value))
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	e, ok := m.lookup(key)
	if !ok {
		return [][]byte{}, nil
	}
	if e.kind != kindList {
		return nil, ErrWrongType
	}

	length := int64(len(e.list))
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return [][]byte{}, nil
	}

	result := make([][]byte, 0, stop-start+1)
	for _, item := range e.list[start : stop+1] {
		result = append(result, cloneBytes(item))
	}
	return result, nil
}

func (m *MemoryStore) FlushDB(ctx context.Context) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.check(ctx)
}

func (m *MemoryStore) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) lookup(key string) (entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		m.delete(key, e)
		return entry{}, false
	}
	return e, true
}

// delete removes key only if it still holds the expired entry that was read.
func (m *MemoryStore) delete(key string, seen entry) {
	m.mu.Lock()
	if current, ok := m.entries[key]; ok && current.expiresAt.Equal(seen.expiresAt) && current.expired(m.now()) {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

func (m *MemoryStore) clock() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

func (m *MemoryStore) check(ctx context.Context) error {
	if m == nil {
		return ErrClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return nil
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied
}
