package jsonservice

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// CacheKeyPrefix starts every result cache key.
const CacheKeyPrefix = "json:call:"

// CacheEntry is one stored call result.
type CacheEntry struct {
	StatusCode int
	RequestID  string
	// Result is the decoded result re-encoded as JSON.
	Result      json.RawMessage
	NetworkTime time.Duration
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Cache stores call results. Implementations must be safe for concurrent
// use; concurrent writers to one key resolve as last writer wins.
type Cache interface {
	// Get returns the live entry for key. A missing or expired entry is
	// (nil, false, nil).
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// CacheKey derives the cache key of a call. encoding/json sorts map keys at
// every level, so permutations of the same arguments share a key.
func CacheKey(endpoint string, args Args) (string, error) {
	if args == nil {
		args = Args{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	_, _ = h.Write([]byte(endpoint))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(encoded)
	return CacheKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// sweepEvery is how many writes a shard takes between expiry sweeps.
const sweepEvery = 256

// InMemoryCache is a sharded in-process Cache. Expired entries are dropped
// when read, and each shard sweeps out expired entries every sweepEvery
// writes so keys that are never read again do not pile up.
type InMemoryCache struct {
	shards     []*cacheShard
	numShards  int
	sweepEvery int
	now        func() time.Time
}

type cacheShard struct {
	mu     sync.RWMutex
	store  map[string]*CacheEntry
	writes int
}

// NewInMemoryCache creates an empty cache with 16 shards.
func NewInMemoryCache() *InMemoryCache {
	return newInMemoryCache(16)
}

func newInMemoryCache(numShards int) *InMemoryCache {
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:     shards,
		numShards:  numShards,
		sweepEvery: sweepEvery,
		now:        time.Now,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

func (c *InMemoryCache) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if c.now().After(entry.ExpiresAt) {
		shard.mu.Lock()
		if current, ok := shard.store[key]; ok && current == entry {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}

	return entry, true, nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, entry *CacheEntry, ttl time.Duration) error {
	stored := *entry
	now := c.now()
	stored.StoredAt = now
	stored.ExpiresAt = now.Add(ttl)

	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.store[key] = &stored
	shard.writes++
	if shard.writes >= c.sweepEvery {
		shard.writes = 0
		shard.sweep(now)
	}
	return nil
}

// sweep must be called with s.mu held.
func (s *cacheShard) sweep(now time.Time) int {
	n := 0
	for key, entry := range s.store {
		if now.After(entry.ExpiresAt) {
			delete(s.store, key)
			n++
		}
	}
	return n
}

// Purge removes every expired entry and returns how many were dropped.
func (c *InMemoryCache) Purge() int {
	now := c.now()
	n := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		n += shard.sweep(now)
		shard.mu.Unlock()
	}
	return n
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
	return nil
}

func (c *InMemoryCache) Clear(_ context.Context) error {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.store)
		shard.mu.RUnlock()
	}
	return n
}
