package common

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

const (
	DefaultExpiration = 10 * time.Minute
	cleanupInterval   = 12 * time.Minute
)

// CacheRepository is a minimal key/value cache. Values are raw []byte so
// callers decide the encoding. Back it with an in-memory store, Redis, or
// anything else that fits.
type CacheRepository interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiration time.Duration)
	Delete(key string)
}

var _ CacheRepository = (*cacheStore)(nil)

type cacheStore struct {
	cache *cache.Cache
}

// NewCacheStore returns an in-memory CacheRepository with TTL eviction.
func NewCacheStore() CacheRepository {
	return &cacheStore{
		cache: cache.New(DefaultExpiration, cleanupInterval),
	}
}

func (c *cacheStore) Get(key string) ([]byte, bool) {
	value, found := c.cache.Get(key)
	if found {
		return value.([]byte), true
	}
	return nil, false
}

func (c *cacheStore) Set(key string, value []byte, expiration time.Duration) {
	c.cache.Set(key, value, expiration)
}

func (c *cacheStore) Delete(key string) {
	c.cache.Delete(key)
}
