package tiles

// Toucher marks a tile as recently used in an LRU cache.
type Toucher interface {
	Touch(tile *Tile)
}

// Tileset is a parsed tile hierarchy plus the result sequences a traversal
// rebuilds on every pass. A Tileset is not safe for concurrent passes.
type Tileset struct {
	Root           *Tile
	GeometricError float64
	AssetVersion   string
	// BasePath is the URI the tileset JSON was loaded from; content URIs
	// are already resolved against it.
	BasePath string

	// Cache receives a touch for every visited tile. Nil disables touching.
	Cache Toucher

	selected        []*Tile
	requested       []*Tile
	hasMixedContent bool
}

// ResetResults empties the selected and requested sequences, keeping
// their backing storage for the next pass.
func (ts *Tileset) ResetResults() {
	clear(ts.selected)
	clear(ts.requested)
	ts.selected = ts.selected[:0]
	ts.requested = ts.requested[:0]
	ts.hasMixedContent = false
}

// AddSelected appends a render candidate for the current pass.
func (ts *Tileset) AddSelected(t *Tile) { ts.selected = append(ts.selected, t) }

// AddRequested appends a tile whose content should be loaded.
func (ts *Tileset) AddRequested(t *Tile) { ts.requested = append(ts.requested, t) }

// SelectedTiles returns the render candidates of the last pass. The slice
// is reused by the next pass; copy it to keep it.
func (ts *Tileset) SelectedTiles() []*Tile { return ts.selected }

// RequestedTiles returns the tiles the last pass asked to load. The slice
// is reused by the next pass; copy it to keep it.
func (ts *Tileset) RequestedTiles() []*Tile { return ts.requested }

// HasMixedContent reports whether the last pass selected tiles at mixed
// refinement levels. The offscreen traversal always leaves it false.
func (ts *Tileset) HasMixedContent() bool { return ts.hasMixedContent }

// Touch forwards to the configured cache.
func (ts *Tileset) Touch(t *Tile) {
	if ts.Cache != nil {
		ts.Cache.Touch(t)
	}
}

// Walk visits every tile reachable from the root in depth-first order
// until fn returns false.
func (ts *Tileset) Walk(fn func(*Tile) bool) {
	if ts.Root == nil {
		return
	}
	stack := []*Tile{ts.Root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t) {
			return
		}
		for i := len(t.Children) - 1; i >= 0; i-- {
			stack = append(stack, t.Children[i])
		}
	}
}

// Count returns the number of tiles currently in the tree.
func (ts *Tileset) Count() int {
	n := 0
	ts.Walk(func(*Tile) bool {
		n++
		return true
	})
	return n
}
