// Package store provides in-memory caches for remote library state.
package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLikeCacheSize bounds how many tracks' library state is remembered.
const DefaultLikeCacheSize = 256

// LikeCache remembers whether recently seen tracks are in the user's
// library, so toggling a like needs one API call instead of two.
// The least recently used entries are evicted first.
type LikeCache struct {
	lru *lru.Cache[string, bool]
}

// NewLikeCache creates a cache holding up to size tracks. A non-positive size
// falls back to DefaultLikeCacheSize.
func NewLikeCache(size int) *LikeCache {
	if size <= 0 {
		size = DefaultLikeCacheSize
	}
	cache, _ := lru.New[string, bool](size)
	return &LikeCache{lru: cache}
}

// Get returns the remembered library state and whether it is known.
func (c *LikeCache) Get(trackID string) (saved, known bool) {
	return c.lru.Get(trackID)
}

// Set records the library state of a track.
func (c *LikeCache) Set(trackID string, saved bool) {
	if trackID == "" {
		return
	}
	c.lru.Add(trackID, saved)
}

// Forget drops a track, e.g. after a failed update left its state unknown.
func (c *LikeCache) Forget(trackID string) {
	c.lru.Remove(trackID)
}

// Len returns the number of remembered tracks.
func (c *LikeCache) Len() int {
	return c.lru.Len()
}

// Purge forgets all tracks.
func (c *LikeCache) Purge() {
	c.lru.Purge()
}
