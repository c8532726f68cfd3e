// Package localstore implements the in-process cache tier: a bounded map with
// write-TTL expiry and an atomic compute-if-absent primitive.
package localstore

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Stats reports counters for one store.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Store is a size-bounded key/value map whose entries expire a fixed duration
// after they were written. Entries are evicted oldest-write-first when the
// bound is reached. Compute coalesces concurrent loads per key.
type Store struct {
	maxSize int
	cache   *gocache.Cache
	group   singleflight.Group

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a store holding at most maxSize entries (0 disables the bound)
// that expire ttl after each write (0 disables expiry).
func New(maxSize int, ttl time.Duration) *Store {
	expiration := ttl
	cleanup := ttl / 2
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	} else if cleanup < time.Second {
		cleanup = time.Second
	}

	s := &Store{
		maxSize: maxSize,
		cache:   gocache.New(expiration, cleanup),
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
	s.cache.OnEvicted(func(key string, _ interface{}) {
		s.forget(key)
	})
	return s
}

// Get returns the live value for key, if any.
func (s *Store) Get(key string) (interface{}, bool) {
	value, found := s.cache.Get(key)
	if found {
		atomic.AddUint64(&s.hits, 1)
	} else {
		atomic.AddUint64(&s.misses, 1)
	}
	return value, found
}

// Set writes the value, evicting the oldest entries when the bound is hit.
func (s *Store) Set(key string, value interface{}) {
	var victims []string

	s.mu.Lock()
	if el, ok := s.index[key]; ok {
		s.order.MoveToBack(el)
	} else {
		for s.maxSize > 0 && s.order.Len() >= s.maxSize {
			front := s.order.Front()
			victim := front.Value.(string)
			s.order.Remove(front)
			delete(s.index, victim)
			victims = append(victims, victim)
		}
		s.index[key] = s.order.PushBack(key)
	}
	s.mu.Unlock()

	for _, victim := range victims {
		s.cache.Delete(victim)
		atomic.AddUint64(&s.evictions, 1)
	}
	s.cache.Set(key, value, gocache.DefaultExpiration)
}

// Delete drops a single entry.
func (s *Store) Delete(key string) {
	s.cache.Delete(key)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.order.Init()
	s.index = make(map[string]*list.Element)
	s.mu.Unlock()
	s.cache.Flush()
}

// Len returns the number of stored entries, including expired entries that
// have not been cleaned up yet.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadUint64(&s.hits),
		Misses:    atomic.LoadUint64(&s.misses),
		Evictions: atomic.LoadUint64(&s.evictions),
		Size:      s.cache.ItemCount(),
	}
}

// Compute returns the cached value for key, or runs fn exactly once across
// concurrent callers, stores its result, and hands that result to every
// waiter. A failing fn caches nothing and all waiters see its error.
func (s *Store) Compute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if value, found := s.Get(key); found {
		return value, nil
	}

	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		// a winner may have stored the value between the miss and this call
		if value, found := s.cache.Get(key); found {
			return value, nil
		}
		value, err := fn()
		if err != nil {
			return nil, err
		}
		s.Set(key, value)
		return value, nil
	})
	return value, err
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	if el, ok := s.index[key]; ok {
		s.order.Remove(el)
		delete(s.index, key)
	}
	s.mu.Unlock()
}
