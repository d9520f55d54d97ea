package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Key identifies a cached read: one operation on one resource.
type Key struct {
	Operation  string
	ResourceID string
}

type entry struct {
	key      Key
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
	hits     uint64
	element  *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

type shard struct {
	lock     sync.Mutex
	entries  map[Key]*entry
	order    *list.List // front = most recently used
	capacity int
}

// Cache is a sharded TTL + LRU store. Safe for concurrent use.
type Cache struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New returns a Cache holding up to maxEntries values across all shards. Zero means
// unbounded (TTL expiry still applies).
func New(maxEntries int) *Cache {
	perShard := 0
	if maxEntries > 0 {
		perShard = (maxEntries + shardCount - 1) / shardCount
	}
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries:  make(map[Key]*entry),
			order:    list.New(),
			capacity: perShard,
		}
	}
	return c
}

func (c *Cache) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Operation))
	h.Write([]byte{0})
	h.Write([]byte(key.ResourceID))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key if present and within its TTL.
func (c *Cache) Get(key Key) (interface{}, bool) {
	s := c.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		s.remove(e)
		return nil, false
	}
	e.hits++
	s.order.MoveToFront(e.element)
	return e.value, true
}

// Put stores value under key for ttl. A non-positive ttl is ignored: the entry would
// never be servable.
func (c *Cache) Put(key Key, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.storedAt = c.now()
		e.ttl = ttl
		s.order.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: value, storedAt: c.now(), ttl: ttl}
	e.element = s.order.PushFront(e)
	s.entries[key] = e

	if s.capacity > 0 && len(s.entries) > s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.remove(oldest.Value.(*entry))
		}
	}
}

// Invalidate drops the entry for key, if any.
func (c *Cache) Invalidate(key Key) {
	s := c.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()
	if e, ok := s.entries[key]; ok {
		s.remove(e)
	}
}

// InvalidateResource drops every entry whose key references resourceID, regardless of
// operation. Called after a successful mutating command on the resource.
func (c *Cache) InvalidateResource(resourceID string) {
	for _, s := range c.shards {
		s.lock.Lock()
		for key, e := range s.entries {
			if key.ResourceID == resourceID {
				s.remove(e)
			}
		}
		s.lock.Unlock()
	}
}

// Len reports the number of live entries, counting expired-but-unswept entries.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.lock.Lock()
		total += len(s.entries)
		s.lock.Unlock()
	}
	return total
}

// Hits returns the accumulated hit count for key, for diagnostics.
func (c *Cache) Hits(key Key) uint64 {
	s := c.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.hits
	}
	return 0
}

// remove must be called with the shard lock held.
func (s *shard) remove(e *entry) {
	s.order.Remove(e.element)
	delete(s.entries, e.key)
}
