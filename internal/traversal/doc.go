// Package traversal selects tiles for offscreen evaluation passes.
//
// Offscreen walks the tileset once per update with an explicit stack. It
// descends wherever refinement is possible, requests content for the
// tiles it would render, selects those whose content is available, and
// reports whether the selection is complete. There is no camera: a single
// minimum geometric error replaces screen-space error, which makes it
// suitable for query-volume evaluation rather than interactive views.
package traversal
