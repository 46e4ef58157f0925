// Package dedupe remembers recently persisted report ids so replayed queue
// messages can be acknowledged without another write.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache is a bounded set of ids with a time-to-live. The oldest ids are
// evicted first once capacity is reached.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return newCache(capacity, ttl, time.Now)
}

func newCache(capacity int, ttl time.Duration, now func() time.Time) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      now,
	}
}

// IsSeen reports whether id was marked within the ttl window.
func (c *Cache) IsSeen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(entry).seenAt) <= c.ttl
}

// MarkSeen records id, refreshing its ttl if it was already present.
func (c *Cache) MarkSeen(id string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
	}
	c.items[id] = c.order.PushBack(entry{key: id, seenAt: now})
	c.evict(now)
}

// Len returns the number of ids currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) evict(now time.Time) {
	cutoff := now.Add(-c.ttl)
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(entry)
		if len(c.items) <= c.capacity && !e.seenAt.Before(cutoff) {
			return
		}
		c.order.Remove(front)
		delete(c.items, e.key)
	}
}
