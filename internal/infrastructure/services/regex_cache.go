package services

import (
	"regexp"
	"sync"

	"github.com/golang/groupcache/lru"
)

const defaultRegexCacheSize = 1024

// regexCache memoizes anchored regex compilation across reloads, so that a
// reload touching one file does not recompile every pattern in the catalogue.
type regexCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

func newRegexCache(size int) *regexCache {
	if size <= 0 {
		size = defaultRegexCacheSize
	}
	return &regexCache{cache: lru.New(size)}
}

// anchored compiles pattern so that it must match the whole input.
func (c *regexCache) anchored(pattern string) (*regexp.Regexp, error) {
	key := "^(?:" + pattern + ")$"

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache.Get(key); ok {
		e := v.(regexEntry)
		return e.re, e.err
	}
	re, err := regexp.Compile(key)
	c.cache.Add(key, regexEntry{re: re, err: err})
	return re, err
}
