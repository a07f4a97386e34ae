// Package tiles owns the tileset data model: the tile hierarchy, per-tile
// content state, bounding volumes and the per-pass result sequences.
//
// Responsibilities: parsing 3D Tiles tileset JSON into a Tile tree,
// tracking content lifecycle (unloaded, loading, available, expired) and
// holding the selected/requested sequences that a traversal rebuilds each
// pass.
// Key types: Tile, Tileset, Volume, FrameState, Statistics.
//
// Dependency rule: tiles depends on no other internal package. Traversal,
// caching, loading and storage all build on it.
package tiles
