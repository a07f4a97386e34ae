// Package tilecache keeps loaded tiles in least-recently-used order and
// evicts the ones a pass did not touch once memory exceeds its budget.
//
// A sentinel element splits the list: Reset moves it to the back at the
// start of a pass, so everything in front of it is "not yet touched this
// pass" and everything behind it was touched (or added) since. Eviction
// only walks the front half, which keeps tiles needed by the current pass
// resident even when the budget is exceeded.
package tilecache

import (
	"container/list"

	"github.com/banshee-data/lodtiles/internal/monitoring"
	"github.com/banshee-data/lodtiles/internal/tiles"
)

type entry struct {
	tile  *tiles.Tile
	bytes int64
}

// Cache is an LRU of loaded tiles. It is owned by the update goroutine and
// not safe for concurrent use; Touch never allocates for cached tiles and
// never blocks.
type Cache struct {
	lru      *list.List
	sentinel *list.Element
	nodes    map[*tiles.Tile]*list.Element

	maximumMemoryUsage int64
	totalMemory        int64
	trimTiles          bool
}

// New creates a cache that starts evicting above maxBytes.
func New(maxBytes int64) *Cache {
	c := &Cache{
		lru:                list.New(),
		nodes:              make(map[*tiles.Tile]*list.Element),
		maximumMemoryUsage: maxBytes,
	}
	c.sentinel = c.lru.PushBack(&entry{})
	return c
}

// Reset marks the start of a pass.
func (c *Cache) Reset() {
	c.lru.MoveToBack(c.sentinel)
}

// Touch marks tile as used by the current pass. Tiles that are not cached
// (nothing loaded yet, empty content) are ignored.
func (c *Cache) Touch(tile *tiles.Tile) {
	if e, ok := c.nodes[tile]; ok {
		c.lru.MoveToBack(e)
	}
}

// Add records freshly loaded content. Re-adding a cached tile refreshes
// its size and recency.
func (c *Cache) Add(tile *tiles.Tile) {
	size := tile.ContentBytes()
	if e, ok := c.nodes[tile]; ok {
		ent := e.Value.(*entry)
		c.totalMemory += size - ent.bytes
		ent.bytes = size
		c.lru.MoveToBack(e)
		return
	}
	c.nodes[tile] = c.lru.PushBack(&entry{tile: tile, bytes: size})
	c.totalMemory += size
}

// Remove drops tile from the cache without unloading it.
func (c *Cache) Remove(tile *tiles.Tile) bool {
	e, ok := c.nodes[tile]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

func (c *Cache) remove(e *list.Element) {
	ent := e.Value.(*entry)
	c.lru.Remove(e)
	delete(c.nodes, ent.tile)
	c.totalMemory -= ent.bytes
}

// Trim makes the next UnloadTiles evict every tile not touched this pass,
// regardless of the memory budget.
func (c *Cache) Trim() {
	c.trimTiles = true
}

// UnloadTiles evicts least-recently-used tiles that were not touched since
// the last Reset while the cache is over budget, calling unload for each.
// It returns the number of evicted tiles.
func (c *Cache) UnloadTiles(unload func(*tiles.Tile)) int {
	trim := c.trimTiles
	c.trimTiles = false

	evicted := 0
	e := c.lru.Front()
	for e != c.sentinel && (c.totalMemory > c.maximumMemoryUsage || trim) {
		next := e.Next()
		tile := e.Value.(*entry).tile
		c.remove(e)
		if unload != nil {
			unload(tile)
		}
		evicted++
		e = next
	}
	if evicted > 0 {
		monitoring.Debugf("tilecache: evicted %d tiles, %d bytes resident", evicted, c.totalMemory)
	}
	return evicted
}

// Each calls fn for every cached tile from least to most recently used.
// fn must not add or remove tiles.
func (c *Cache) Each(fn func(*tiles.Tile)) {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		if e == c.sentinel {
			continue
		}
		fn(e.Value.(*entry).tile)
	}
}

// Contains reports whether tile is cached.
func (c *Cache) Contains(tile *tiles.Tile) bool {
	_, ok := c.nodes[tile]
	return ok
}

// Len is the number of cached tiles.
func (c *Cache) Len() int { return len(c.nodes) }

// TotalMemory is the sum of cached content sizes.
func (c *Cache) TotalMemory() int64 { return c.totalMemory }

// MaximumMemoryUsage is the eviction threshold in bytes.
func (c *Cache) MaximumMemoryUsage() int64 { return c.maximumMemoryUsage }

// SetMaximumMemoryUsage changes the eviction threshold.
func (c *Cache) SetMaximumMemoryUsage(maxBytes int64) { c.maximumMemoryUsage = maxBytes }
