package cache

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidCapacity is returned by New for a non-positive capacity.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Key fingerprints a request payload.
func Key(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// entry keeps a copy of the request next to the response; a lookup only
// hits when the stored request matches byte for byte.
type entry struct {
	request  []byte
	response []byte
}

// Stats reports cache effectiveness.
type Stats struct {
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResultCache maps request payloads to encoded responses.
// The underlying LRU is safe for concurrent use.
type ResultCache struct {
	lru      *lru.Cache[uint64, entry]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// New creates a ResultCache holding at most capacity responses.
func New(capacity int) (*ResultCache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	c, err := lru.New[uint64, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &ResultCache{lru: c, capacity: capacity}, nil
}

// Get returns the cached response for a request payload.
func (c *ResultCache) Get(request []byte) ([]byte, bool) {
	if e, ok := c.lru.Get(Key(request)); ok && bytes.Equal(e.request, request) {
		c.hits.Add(1)
		return e.response, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put stores the response for a request payload.
func (c *ResultCache) Put(request, response []byte) {
	c.lru.Add(Key(request), entry{request: bytes.Clone(request), response: response})
}

// Purge drops every entry. Statistics are kept.
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached responses.
func (c *ResultCache) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the cache statistics.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Capacity: c.capacity,
		Len:      c.lru.Len(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}
