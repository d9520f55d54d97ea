package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func statusKey(vin string) Key {
	return Key{Operation: "status", ResourceID: vin}
}

// advance replaces the cache clock with one offset by d from a fixed origin.
func fixedClock(c *Cache) func(time.Duration) {
	origin := time.Unix(1700000000, 0)
	offset := time.Duration(0)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return origin.Add(offset)
	}
	return func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		offset += d
	}
}

func TestGetPut(t *testing.T) {
	c := New(0)
	key := statusKey("VIN1")
	if _, ok := c.Get(key); ok {
		t.Fatal("hit on empty cache")
	}
	c.Put(key, "locked", time.Minute)
	value, ok := c.Get(key)
	if !ok || value != "locked" {
		t.Fatalf("got (%v, %t)", value, ok)
	}
	if hits := c.Hits(key); hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(0)
	advance := fixedClock(c)
	key := statusKey("VIN1")
	c.Put(key, "locked", 30*time.Second)

	advance(29 * time.Second)
	if _, ok := c.Get(key); !ok {
		t.Error("entry expired before TTL")
	}

	advance(time.Second)
	if _, ok := c.Get(key); ok {
		t.Error("entry served at or past TTL")
	}
	if c.Len() != 0 {
		t.Error("expired entry not removed on read")
	}
}

func TestZeroTTLNotStored(t *testing.T) {
	c := New(0)
	c.Put(statusKey("VIN1"), "locked", 0)
	if c.Len() != 0 {
		t.Error("entry with zero TTL was stored")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(0)
	key := statusKey("VIN1")
	c.Put(key, "locked", time.Minute)
	c.Invalidate(key)
	if _, ok := c.Get(key); ok {
		t.Error("entry survived invalidation")
	}
}

func TestInvalidateResource(t *testing.T) {
	c := New(0)
	c.Put(Key{Operation: "status", ResourceID: "VIN1"}, "locked", time.Hour)
	c.Put(Key{Operation: "location", ResourceID: "VIN1"}, "somewhere", time.Hour)
	c.Put(Key{Operation: "status", ResourceID: "VIN2"}, "unlocked", time.Hour)

	c.InvalidateResource("VIN1")

	if _, ok := c.Get(Key{Operation: "status", ResourceID: "VIN1"}); ok {
		t.Error("status entry for VIN1 survived")
	}
	if _, ok := c.Get(Key{Operation: "location", ResourceID: "VIN1"}); ok {
		t.Error("location entry for VIN1 survived")
	}
	if _, ok := c.Get(Key{Operation: "status", ResourceID: "VIN2"}); !ok {
		t.Error("unrelated resource was invalidated")
	}
}

func TestUpdateInPlace(t *testing.T) {
	c := New(0)
	key := statusKey("VIN1")
	c.Put(key, "locked", time.Minute)
	c.Put(key, "unlocked", time.Minute)
	if value, _ := c.Get(key); value != "unlocked" {
		t.Errorf("got %v after update", value)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(0)
	// Pin everything to one shard so the per-shard capacity bound is observable.
	s := c.shards[0]
	s.capacity = 2
	keys := []Key{statusKey("A"), statusKey("B"), statusKey("C")}
	put := func(k Key, v string) {
		s.lock.Lock()
		defer s.lock.Unlock()
		e := &entry{key: k, value: v, storedAt: c.now(), ttl: time.Hour}
		e.element = s.order.PushFront(e)
		s.entries[k] = e
		if s.capacity > 0 && len(s.entries) > s.capacity {
			s.remove(s.order.Back().Value.(*entry))
		}
	}

	put(keys[0], "a")
	put(keys[1], "b")

	// Touch A so B becomes least recently used.
	s.lock.Lock()
	s.order.MoveToFront(s.entries[keys[0]].element)
	s.lock.Unlock()

	put(keys[2], "c")

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.entries[keys[1]]; ok {
		t.Error("least recently used entry was not evicted")
	}
	if _, ok := s.entries[keys[0]]; !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := s.entries[keys[2]]; !ok {
		t.Error("new entry missing")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(1000)
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				vin := fmt.Sprintf("VIN%d", i%20)
				key := statusKey(vin)
				switch i % 3 {
				case 0:
					c.Put(key, worker, time.Minute)
				case 1:
					c.Get(key)
				default:
					c.InvalidateResource(vin)
				}
			}
		}(worker)
	}
	wg.Wait()
}
