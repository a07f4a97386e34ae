package traversal

import (
	"github.com/banshee-data/lodtiles/internal/tiles"
)

// VisibilityOracle computes per-pass tile visibility.
type VisibilityOracle interface {
	// UpdateVisibility must set tile.Visible and tile.InRequestVolume.
	UpdateVisibility(tile *tiles.Tile, frame *tiles.FrameState)
	// ContentVisibility classifies the tile's content against the frame.
	ContentVisibility(tile *tiles.Tile, frame *tiles.FrameState) tiles.Intersect
}

// Offscreen is the offscreen tile selection traversal. Its stack is reused
// across passes to avoid per-pass allocation, so an Offscreen must not run
// two passes at once.
type Offscreen struct {
	Oracle VisibilityOracle

	// MinimumGeometricError stops refinement at tiles whose geometric
	// error is below it. Zero refines to the leaves.
	MinimumGeometricError float64

	stack              []*tiles.Tile
	stackMaximumLength int
}

// New returns an Offscreen refining down to minimumGeometricError.
func New(oracle VisibilityOracle, minimumGeometricError float64) *Offscreen {
	return &Offscreen{Oracle: oracle, MinimumGeometricError: minimumGeometricError}
}

// SelectTiles runs one pass over ts. Selected and requested tiles are left
// in ts; every visited tile is touched in ts.Cache and counted in stats.
// The result is false when some tile that should be rendered has no
// available content yet.
func (o *Offscreen) SelectTiles(ts *tiles.Tileset, stats *tiles.Statistics, frame *tiles.FrameState) bool {
	ts.ResetResults()
	ready := true

	root := ts.Root
	o.Oracle.UpdateVisibility(root, frame)
	if !isVisible(root) {
		return ready
	}
	if ts.GeometricError <= o.MinimumGeometricError {
		return ready
	}

	o.stackMaximumLength = 0
	o.stack = append(o.stack, root)

	for len(o.stack) > 0 {
		o.stackMaximumLength = max(o.stackMaximumLength, len(o.stack))

		last := len(o.stack) - 1
		tile := o.stack[last]
		o.stack[last] = nil
		o.stack = o.stack[:last]

		add := tile.Refine == tiles.RefineAdd
		replace := tile.Refine == tiles.RefineReplace
		traverse := o.canTraverse(tile)

		if traverse {
			o.updateAndPushChildren(tile, frame)
		}

		if add || (replace && !traverse) {
			loadTile(ts, tile, stats)
			o.selectDesiredTile(ts, tile, frame, stats)

			if !hasEmptyContent(tile) && !tile.ContentAvailable() {
				ready = false
			}
		}

		stats.Visited++
		ts.Touch(tile)
	}

	o.trimStack()
	return ready
}

// StackCapacity reports the scratch stack's backing capacity.
func (o *Offscreen) StackCapacity() int { return cap(o.stack) }

// StackMaximumLength reports the deepest stack seen by the last pass.
func (o *Offscreen) StackMaximumLength() int { return o.stackMaximumLength }

// trimStack shrinks the backing array to the pass's high-water mark so one
// unusually deep pass does not pin memory forever.
func (o *Offscreen) trimStack() {
	if cap(o.stack) > o.stackMaximumLength {
		o.stack = make([]*tiles.Tile, 0, o.stackMaximumLength)
	}
}

func isVisible(tile *tiles.Tile) bool {
	return tile.Visible && tile.InRequestVolume
}

// hasEmptyContent treats external tileset pointers as empty: they render
// nothing themselves.
func hasEmptyContent(tile *tiles.Tile) bool {
	return tile.HasEmptyContent() || tile.HasTilesetContent()
}

func hasUnloadedContent(tile *tiles.Tile) bool {
	return !hasEmptyContent(tile) && tile.ContentUnloaded()
}

func (o *Offscreen) canTraverse(tile *tiles.Tile) bool {
	if len(tile.Children) == 0 {
		return false
	}
	if tile.HasTilesetContent() {
		// Descend into the external root unless the subtree is expired
		// and about to be destroyed.
		return !tile.ContentExpired()
	}
	if tile.HasEmptyContent() {
		return true
	}
	return tile.GeometricError >= o.MinimumGeometricError
}

func (o *Offscreen) updateAndPushChildren(tile *tiles.Tile, frame *tiles.FrameState) {
	for _, child := range tile.Children {
		o.Oracle.UpdateVisibility(child, frame)
		if isVisible(child) {
			o.stack = append(o.stack, child)
		}
	}
}

func loadTile(ts *tiles.Tileset, tile *tiles.Tile, stats *tiles.Statistics) {
	if hasUnloadedContent(tile) || (!tile.HasEmptyContent() && tile.ContentExpired()) {
		ts.AddRequested(tile)
		stats.Requested++
	}
}

// selectDesiredTile never selects empty or pointer tiles: neither carries
// a renderable payload.
func (o *Offscreen) selectDesiredTile(ts *tiles.Tileset, tile *tiles.Tile, frame *tiles.FrameState, stats *tiles.Statistics) {
	if hasEmptyContent(tile) {
		return
	}
	if tile.ContentAvailable() && o.Oracle.ContentVisibility(tile, frame) != tiles.Outside {
		ts.AddSelected(tile)
		stats.Selected++
	}
}
