// Package visibility decides which tiles a pass can reach. VolumeOracle
// tests tile bounding volumes against the frame's query box, which is the
// offscreen equivalent of frustum culling.
package visibility

import (
	"github.com/banshee-data/lodtiles/internal/tiles"
)

// VolumeOracle classifies tiles against FrameState.Query and
// FrameState.Position. It keeps no state between calls.
type VolumeOracle struct{}

// UpdateVisibility sets tile.Visible and tile.InRequestVolume for frame.
func (VolumeOracle) UpdateVisibility(tile *tiles.Tile, frame *tiles.FrameState) {
	tile.Visible = true
	if frame != nil && frame.Query != nil {
		tile.Visible = tile.BoundingVolume.Classify(*frame.Query) != tiles.Outside
	}

	tile.InRequestVolume = true
	if tile.ViewerRequestVolume != nil && frame != nil && frame.Position != nil {
		tile.InRequestVolume = tile.ViewerRequestVolume.Contains(*frame.Position)
	}
}

// ContentVisibility classifies the tile's content volume. Tiles without a
// separate content volume report Intersecting: the coarse check already
// passed, so the content is not known to be outside.
func (VolumeOracle) ContentVisibility(tile *tiles.Tile, frame *tiles.FrameState) tiles.Intersect {
	if tile.ContentBoundingVolume == nil {
		return tiles.Intersecting
	}
	if frame == nil || frame.Query == nil {
		return tiles.Inside
	}
	return tile.ContentBoundingVolume.Classify(*frame.Query)
}
