// ABOUTME: Thread-safe TTL cache for suppressing duplicate message submissions
// ABOUTME: Bounded size with O(1) oldest-entry eviction via a linked list

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a key's last-seen time with its position in the eviction order.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks recently seen submission keys so retries and double-sends can
// be rejected. Entries expire after the TTL; when the cache is full the
// oldest entry is evicted first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity. A background
// goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically checks whether key was submitted within the TTL and marks
// it. Returns true for a duplicate, false if the key is new (and now marked).
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}

	c.mark(key)
	return false
}

// mark records the key. Must be called with mu held.
func (c *Cache) mark(key string) {
	now := time.Now()

	if e, exists := c.entries[key]; exists {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{seenAt: now, element: elem}
}

// evictOldest removes the front (oldest) entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// sweep periodically drops expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
