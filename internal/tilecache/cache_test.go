package tilecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lodtiles/internal/tiles"
)

func loaded(id string, size int64) *tiles.Tile {
	t := &tiles.Tile{ID: id, Kind: tiles.ContentRenderable}
	t.MarkLoaded("b3dm", size, time.Unix(0, 0))
	return t
}

func ids(c *Cache) []string {
	var out []string
	c.Each(func(t *tiles.Tile) { out = append(out, t.ID) })
	return out
}

func TestCache_AddTouchOrder(t *testing.T) {
	c := New(1000)
	a, b, d := loaded("a", 10), loaded("b", 20), loaded("d", 30)
	c.Add(a)
	c.Add(b)
	c.Add(d)
	assert.Equal(t, []string{"a", "b", "d"}, ids(c))
	assert.Equal(t, int64(60), c.TotalMemory())
	assert.Equal(t, 3, c.Len())

	c.Touch(a)
	assert.Equal(t, []string{"b", "d", "a"}, ids(c))

	// touching an uncached tile is a no-op
	c.Touch(&tiles.Tile{ID: "stranger"})
	assert.Equal(t, 3, c.Len())
}

func TestCache_ReAddUpdatesSize(t *testing.T) {
	c := New(1000)
	a := loaded("a", 10)
	c.Add(a)
	a.MarkLoaded("b3dm", 25, time.Unix(0, 0))
	c.Add(a)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(25), c.TotalMemory())
}

func TestCache_UnloadTilesRespectsSentinel(t *testing.T) {
	c := New(25)
	a, b, d := loaded("a", 10), loaded("b", 10), loaded("d", 10)
	c.Add(a)
	c.Add(b)
	c.Add(d)

	// new pass touches only d and a
	c.Reset()
	c.Touch(d)
	c.Touch(a)

	var unloaded []string
	n := c.UnloadTiles(func(tile *tiles.Tile) {
		unloaded = append(unloaded, tile.ID)
		tile.UnloadContent()
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, unloaded)
	assert.True(t, b.ContentUnloaded())
	assert.Equal(t, int64(20), c.TotalMemory())
	assert.False(t, c.Contains(b))
	assert.Equal(t, []string{"d", "a"}, ids(c))
}

func TestCache_UnloadTilesKeepsTouchedTilesOverBudget(t *testing.T) {
	c := New(5)
	a, b := loaded("a", 10), loaded("b", 10)
	c.Add(a)
	c.Add(b)
	c.Reset()
	c.Touch(a)
	c.Touch(b)

	assert.Zero(t, c.UnloadTiles(nil))
	assert.Equal(t, int64(20), c.TotalMemory(), "tiles used this pass stay resident")
}

func TestCache_Trim(t *testing.T) {
	c := New(1 << 30)
	a, b := loaded("a", 10), loaded("b", 10)
	c.Add(a)
	c.Add(b)
	c.Reset()
	c.Touch(b)

	assert.Zero(t, c.UnloadTiles(nil), "under budget without trim")

	c.Trim()
	assert.Equal(t, 1, c.UnloadTiles(nil))
	assert.Equal(t, []string{"b"}, ids(c))

	// trim is one-shot
	c.Reset()
	assert.Zero(t, c.UnloadTiles(nil))
}

func TestCache_Remove(t *testing.T) {
	c := New(100)
	a := loaded("a", 10)
	c.Add(a)
	require.True(t, c.Remove(a))
	assert.False(t, c.Remove(a))
	assert.Zero(t, c.TotalMemory())
	assert.Zero(t, c.Len())
}

func TestCache_MaximumMemoryUsage(t *testing.T) {
	c := New(100)
	assert.Equal(t, int64(100), c.MaximumMemoryUsage())
	c.SetMaximumMemoryUsage(5)
	c.Add(loaded("a", 10))
	c.Reset()
	assert.Equal(t, 1, c.UnloadTiles(nil))
}

func TestCache_TouchDoesNotAllocate(t *testing.T) {
	c := New(100)
	a := loaded("a", 10)
	c.Add(a)
	c.Add(loaded("b", 10))

	allocs := testing.AllocsPerRun(100, func() {
		c.Touch(a)
	})
	assert.Zero(t, allocs)
}
