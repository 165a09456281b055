package common

import (
	"math"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hanzoai/compute/log"
)

// CacheType selects the cache implementation backing a Cache, mirroring the
// teacher's common/cache.go LRUCacheType/LRUShardCacheType/ARCChacheType
// selection, generalized to the ledger's block-header and miner caches.
type CacheType int

const (
	LRUCacheType CacheType = iota
	LRUShardCacheType
	ARCCacheType
)

var DefaultCacheType = LRUCacheType
var CacheScale = 100 // cache size = preset size * CacheScale / 100

var logger = log.NewModuleLogger(log.Storage)

// CacheKey is implemented by keys that can be routed to a shard, e.g. Hash
// or PeerID.
type CacheKey interface {
	ShardIndex(shardMask int) int
}

// ShardIndex implements CacheKey for Hash by its low bytes.
func (h Hash) ShardIndex(shardMask int) int {
	return int(h[31]) & shardMask
}

// ShardIndex implements CacheKey for PeerID by a simple byte fold.
func (p PeerID) ShardIndex(shardMask int) int {
	sum := 0
	for i := 0; i < len(p); i++ {
		sum += int(p[i])
	}
	return sum & shardMask
}

// Cache is the uniform entry point used by the mining ledger's block header
// cache and miner state cache, regardless of backing implementation.
type Cache interface {
	Add(key CacheKey, value interface{}) (evicted bool)
	Get(key CacheKey) (value interface{}, ok bool)
	Contains(key CacheKey) bool
	Purge()
}

type lruCache struct {
	lru *lru.Cache
}

func (c *lruCache) Add(key CacheKey, value interface{}) (evicted bool) { return c.lru.Add(key, value) }
func (c *lruCache) Get(key CacheKey) (interface{}, bool)               { return c.lru.Get(key) }
func (c *lruCache) Contains(key CacheKey) bool                         { return c.lru.Contains(key) }
func (c *lruCache) Purge()                                             { c.lru.Purge() }
func (c *lruCache) Len() int                                           { return c.lru.Len() }

type arcCache struct {
	arc *lru.ARCCache
}

func (c *arcCache) Add(key CacheKey, value interface{}) (evicted bool) {
	c.arc.Add(key, value)
	return true
}
func (c *arcCache) Get(key CacheKey) (interface{}, bool) { return c.arc.Get(key) }
func (c *arcCache) Contains(key CacheKey) bool           { return c.arc.Contains(key) }
func (c *arcCache) Purge()                               { c.arc.Purge() }

type lruShardCache struct {
	shards         []*lru.Cache
	shardIndexMask int
}

func (c *lruShardCache) Add(key CacheKey, val interface{}) (evicted bool) {
	return c.shards[key.ShardIndex(c.shardIndexMask)].Add(key, val)
}
func (c *lruShardCache) Get(key CacheKey) (interface{}, bool) {
	return c.shards[key.ShardIndex(c.shardIndexMask)].Get(key)
}
func (c *lruShardCache) Contains(key CacheKey) bool {
	return c.shards[key.ShardIndex(c.shardIndexMask)].Contains(key)
}
func (c *lruShardCache) Purge() {
	for _, s := range c.shards {
		s := s
		go s.Purge()
	}
}

// NewCache builds a Cache from a CacheConfiger, the same factory shape as
// the teacher's common.NewCache(config).
func NewCache(config CacheConfiger) (Cache, error) {
	if config == nil {
		return nil, New(KindInvalidData, "cache config is nil")
	}
	return config.newCache()
}

type CacheConfiger interface {
	newCache() (Cache, error)
}

type LRUConfig struct {
	CacheSize int
}

func (c LRUConfig) newCache() (Cache, error) {
	size := c.CacheSize * CacheScale / 100
	l, err := lru.New(size)
	return &lruCache{l}, err
}

type ARCConfig struct {
	CacheSize int
}

func (c ARCConfig) newCache() (Cache, error) {
	arc, err := lru.NewARC(c.CacheSize)
	return &arcCache{arc}, err
}

type LRUShardConfig struct {
	CacheSize int
	NumShards int
}

const (
	minShardSize = 10
	minNumShards = 2
)

func (c LRUShardConfig) newCache() (Cache, error) {
	size := c.CacheSize * CacheScale / 100
	if size < 1 {
		logger.Error("negative cache size", "size", size, "scale", CacheScale)
		return nil, New(KindInvalidData, "cache size must be positive")
	}
	numShards := c.shardsPowOf2()
	if c.NumShards != numShards {
		logger.Warn("numShards adjusted", "requested", c.NumShards, "actual", numShards)
	}
	shard := &lruShardCache{shards: make([]*lru.Cache, numShards), shardIndexMask: numShards - 1}
	shardSize := size / numShards
	for i := 0; i < numShards; i++ {
		l, err := lru.NewWithEvict(shardSize, nil)
		if err != nil {
			return nil, err
		}
		shard.shards[i] = l
	}
	return shard, nil
}

func (c LRUShardConfig) shardsPowOf2() int {
	maxShards := float64(c.CacheSize * CacheScale / 100 / minShardSize)
	n := int(math.Min(float64(c.NumShards), maxShards))
	prev := minNumShards
	for n > minNumShards {
		prev = n
		n = n & (n - 1)
	}
	return prev
}
