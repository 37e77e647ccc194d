package cache

import (
	"strings"
	"sync"
	"time"
)

// MemCache is an in-memory TTL store backed by sync.Map. Expired items are
// invisible to reads immediately; Evict removes them and reports each one.
type MemCache struct {
	items sync.Map
	now   func() time.Time
}

type item struct {
	value      any
	expiration int64 // unix nano; 0 means no expiration
}

type Option func(*MemCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemCache) {
		m.now = now
	}
}

func NewMemCache(opts ...Option) *MemCache {
	m := &MemCache{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemCache) Set(key string, value any, ttl time.Duration) {
	var exp int64
	if ttl > 0 {
		exp = m.now().Add(ttl).UnixNano()
	}
	m.items.Store(key, &item{
		value:      value,
		expiration: exp,
	})
}

func (m *MemCache) Get(key string) (any, bool) {
	v, ok := m.items.Load(key)
	if !ok {
		return nil, false
	}
	it := v.(*item)
	if it.isExpired(m.now().UnixNano()) {
		return nil, false
	}
	return it.value, true
}

// Delete removes key and reports whether a live (unexpired) item was there.
func (m *MemCache) Delete(key string) bool {
	v, ok := m.items.LoadAndDelete(key)
	if !ok {
		return false
	}
	return !v.(*item).isExpired(m.now().UnixNano())
}

// Remove deletes key and reports whether any item was stored under it,
// including an expired one that Evict has not collected yet.
func (m *MemCache) Remove(key string) bool {
	_, ok := m.items.LoadAndDelete(key)
	return ok
}

func (m *MemCache) Exists(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *MemCache) Flush() {
	m.items.Range(func(k, _ any) bool {
		m.items.Delete(k)
		return true
	})
}

func (m *MemCache) Keys() []string {
	keys := make([]string, 0)
	m.Range(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Range calls f for every unexpired item.
func (m *MemCache) Range(f func(key string, value any) bool) {
	now := m.now().UnixNano()
	m.items.Range(func(k, v any) bool {
		it := v.(*item)
		if it.isExpired(now) {
			return true
		}
		return f(k.(string), it.value)
	})
}

// RangePrefix is Range restricted to keys starting with prefix.
func (m *MemCache) RangePrefix(prefix string, f func(key string, value any) bool) {
	m.Range(func(k string, v any) bool {
		if !strings.HasPrefix(k, prefix) {
			return true
		}
		return f(k, v)
	})
}

// Evict deletes every expired item and calls onEvict for each one actually
// removed by this call. Returns the number evicted.
func (m *MemCache) Evict(onEvict func(key string, value any)) int {
	now := m.now().UnixNano()
	evicted := 0
	m.items.Range(func(k, v any) bool {
		it := v.(*item)
		if !it.isExpired(now) {
			return true
		}
		// CompareAndDelete so a concurrent Set refreshing the key wins.
		if m.items.CompareAndDelete(k, v) {
			evicted++
			if onEvict != nil {
				onEvict(k.(string), it.value)
			}
		}
		return true
	})
	return evicted
}

func (it *item) isExpired(now int64) bool {
	if it == nil || it.expiration == 0 {
		return false
	}
	return now > it.expiration
}
