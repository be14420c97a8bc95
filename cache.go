package stitch

import "sync"

// Cache provides byte storage for resource payloads, keyed by the
// resource's absolute offset in the backing file. Offsets never change
// after commit, so hits need no further validation.
//
// Implementations handle their own size limits and eviction.
type Cache interface {
	// Get retrieves a payload by offset key. The returned slice must be
	// treated as read-only.
	Get(key uint64) ([]byte, bool)

	// Put stores a payload under the offset key.
	Put(key uint64, content []byte) error
}

// MemoryCache is an in-memory Cache bounded by total payload bytes.
// Eviction order is unspecified. Safe for concurrent use.
type MemoryCache struct {
	mu       sync.Mutex
	maxBytes uint64
	curBytes uint64
	entries  map[uint64][]byte
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache holding at most maxBytes of payload
// data. Zero means no limit.
func NewMemoryCache(maxBytes uint64) *MemoryCache {
	return &MemoryCache{
		maxBytes: maxBytes,
		entries:  make(map[uint64][]byte),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok
}

// Put implements Cache. Payloads larger than the cache limit are ignored.
func (c *MemoryCache) Put(key uint64, content []byte) error {
	size := uint64(len(content))
	if c.maxBytes != 0 && size > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.curBytes -= uint64(len(old))
	}
	if c.maxBytes != 0 {
		for k, v := range c.entries {
			if c.curBytes+size <= c.maxBytes {
				break
			}
			c.curBytes -= uint64(len(v))
			delete(c.entries, k)
		}
	}
	c.entries[key] = content
	c.curBytes += size
	return nil
}

// Len returns the number of cached payloads.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
