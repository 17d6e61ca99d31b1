// Package cache provides a small in-process LRU used to memoize pure
// computations such as token counts.
package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultCapacity = 1024

type item struct {
	key     string
	value   any
	expires time.Time
	elem    *list.Element
}

// LRU is a fixed-capacity cache with optional per-entry expiry.
// All methods are safe for concurrent use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*item
	order    *list.List
}

// NewLRU creates a cache holding at most capacity entries. A ttl of zero
// means entries never expire.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*item, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !it.expires.IsZero() && !time.Now().Before(it.expires) {
		c.remove(it)
		return nil, false
	}
	c.order.MoveToFront(it.elem)
	return it.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		it.value = value
		it.expires = c.expiry()
		c.order.MoveToFront(it.elem)
		return
	}

	if len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			if it, ok := c.items[oldest.Value.(string)]; ok {
				c.remove(it)
			}
		}
	}

	c.items[key] = &item{
		key:     key,
		value:   value,
		expires: c.expiry(),
		elem:    c.order.PushFront(key),
	}
}

// Len reports the number of entries currently held, including any that
// have expired but not yet been evicted.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops all entries.
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item, c.capacity)
	c.order.Init()
}

func (c *LRU) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *LRU) remove(it *item) {
	c.order.Remove(it.elem)
	delete(c.items, it.key)
}
