// ABOUTME: TTL cache that suppresses repeated file events for the same agent and path.
// ABOUTME: Size-bounded with oldest-first eviction and background expiry.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies one file seen by one agent's watch.
type Key struct {
	AgentID string
	Path    string
}

type entry struct {
	key  Key
	seen time.Time
}

// Cache remembers keys for ttl. The list keeps keys in mark order, oldest
// at the front, so eviction at capacity is O(1).
type Cache struct {
	mu      sync.Mutex
	index   map[Key]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its expiry goroutine. Close stops it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		index:   make(map[Key]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.expireLoop()
	return c
}

// CheckAndMark reports whether k was seen within ttl. If not, k is recorded
// and false is returned. The check and the mark are one atomic step.
func (c *Cache) CheckAndMark(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[k]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return true
		}
		e.seen = now
		c.order.MoveToBack(el)
		return false
	}

	if c.maxSize > 0 && len(c.index) >= c.maxSize {
		c.evictOldest()
	}
	c.index[k] = c.order.PushBack(&entry{key: k, seen: now})
	return false
}

// Forget drops every key belonging to agentID, used when its watch is replaced.
func (c *Cache) Forget(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); e.key.AgentID == agentID {
			c.order.Remove(el)
			delete(c.index, e.key)
		}
		el = next
	}
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// evictOldest removes the front of the list. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}

func (c *Cache) expireLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// expire walks from the oldest entry and stops at the first live one.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		c.order.Remove(el)
		delete(c.index, e.key)
	}
}

// Close stops the expiry goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
