package posts

import (
	"slices"
	"sync"

	"github.com/frith/blog/internal/storage"
)

// LatestCache keeps the complete feed of finished posts, newest first. Any
// change to a post drops the whole feed.
type LatestCache struct {
	mu         sync.Mutex
	posts      []storage.Post
	valid      bool
	generation uint64
}

// Get returns the cached feed and the generation it belongs to.
func (c *LatestCache) Get() ([]storage.Post, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return nil, c.generation, false
	}
	return c.posts, c.generation, true
}

// Store caches a feed computed while generation was current. It is discarded
// if an invalidation happened in between.
func (c *LatestCache) Store(generation uint64, posts []storage.Post) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return false
	}
	c.posts = slices.Clone(posts)
	c.valid = true
	return true
}

func (c *LatestCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = nil
	c.valid = false
	c.generation++
}
