package tiles

import (
	"sync/atomic"
	"time"
)

// Tile is a node in the tileset hierarchy. A tile exclusively owns its
// children. Visibility fields are rewritten every pass by the visibility
// oracle; content fields are changed only by the loader, the expiration
// policy and cache eviction, all of which run on the update goroutine.
// The content state itself is atomic so readers on other goroutines (the
// debug server, for instance) observe a consistent value.
type Tile struct {
	// ID is the tile's path from the tileset root, e.g. "root/0/2".
	ID       string
	Parent   *Tile
	Children []*Tile
	Depth    int

	GeometricError float64
	Refine         Refinement
	Kind           ContentKind
	ContentURI     string

	// Transform is the tile's world transform (column-major), already
	// composed with every ancestor transform.
	Transform Matrix4

	BoundingVolume        Volume
	ContentBoundingVolume *Volume
	ViewerRequestVolume   *Volume

	// ExpireDuration is how long loaded content stays fresh. Zero means
	// the content never expires.
	ExpireDuration time.Duration

	// Set each pass by the visibility oracle.
	Visible         bool
	InRequestVolume bool

	state         atomic.Int32
	expireAt      time.Time
	contentBytes  int64
	contentFormat string
}

// ContentState reports the current payload state.
func (t *Tile) ContentState() ContentState {
	return ContentState(t.state.Load())
}

// SetContentState forces the payload state. Loaders use it for the
// LOADING transition; tests use it to stage trees.
func (t *Tile) SetContentState(s ContentState) {
	t.state.Store(int32(s))
}

// ContentAvailable reports whether the payload is ready to render.
func (t *Tile) ContentAvailable() bool { return t.ContentState() == ContentAvailable }

// ContentExpired reports whether the payload is stale and about to be replaced.
func (t *Tile) ContentExpired() bool { return t.ContentState() == ContentExpired }

// ContentUnloaded reports whether no payload has been requested.
func (t *Tile) ContentUnloaded() bool { return t.ContentState() == ContentUnloaded }

// ContentLoading reports whether a request for the payload is in flight.
func (t *Tile) ContentLoading() bool { return t.ContentState() == ContentLoading }

// HasEmptyContent reports whether the tile has no content at all.
func (t *Tile) HasEmptyContent() bool { return t.Kind == ContentEmpty }

// HasTilesetContent reports whether the tile points at an external tileset.
func (t *Tile) HasTilesetContent() bool { return t.Kind == ContentTileset }

// ContentBytes is the memory accounted to the loaded payload.
func (t *Tile) ContentBytes() int64 { return t.contentBytes }

// ContentFormat is the decoded payload format ("b3dm", "json", ...), empty
// when nothing is loaded.
func (t *Tile) ContentFormat() string { return t.contentFormat }

// ExpireAt returns the freshness deadline of the loaded content. The zero
// time means no deadline.
func (t *Tile) ExpireAt() time.Time { return t.expireAt }

// MarkLoaded records a freshly decoded payload and makes it available.
func (t *Tile) MarkLoaded(format string, size int64, now time.Time) {
	t.contentFormat = format
	t.contentBytes = size
	if t.ExpireDuration > 0 {
		t.expireAt = now.Add(t.ExpireDuration)
	} else {
		t.expireAt = time.Time{}
	}
	t.SetContentState(ContentAvailable)
}

// UnloadContent drops a renderable payload and makes the tile
// re-requestable. Pointer tiles are never evicted; their subtree goes away
// through DestroySubtree when the external tileset is refreshed.
func (t *Tile) UnloadContent() {
	t.contentBytes = 0
	t.contentFormat = ""
	t.expireAt = time.Time{}
	t.SetContentState(ContentUnloaded)
}

// DestroySubtree detaches the external tileset resolved under a pointer
// tile. Called when an expired pointer is re-requested. If unload is not
// nil it is called for every descendant before the subtree is detached,
// so the owner can drop cached content.
func (t *Tile) DestroySubtree(unload func(*Tile)) {
	if unload != nil {
		stack := append([]*Tile(nil), t.Children...)
		for len(stack) > 0 {
			d := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack = append(stack, d.Children...)
			unload(d)
		}
	}
	for _, c := range t.Children {
		c.Parent = nil
	}
	t.Children = nil
}

// UpdateExpiration flips available content to EXPIRED once its deadline
// has passed. It returns true when the transition happened.
func (t *Tile) UpdateExpiration(now time.Time) bool {
	if t.expireAt.IsZero() || !t.ContentAvailable() {
		return false
	}
	if now.Before(t.expireAt) {
		return false
	}
	t.SetContentState(ContentExpired)
	return true
}

// AttachExternal resolves a pointer tile: root becomes its single child and
// the tile becomes a transparent TILESET_POINTER. Any previously attached
// subtree is discarded.
func (t *Tile) AttachExternal(root *Tile) {
	t.Kind = ContentTileset
	root.Parent = t
	t.Children = []*Tile{root}
}

// IsExternalPointer reports whether the tile's content URI names a tileset
// JSON document rather than a renderable payload.
func (t *Tile) IsExternalPointer() bool {
	return t.Kind == ContentTileset || isTilesetURI(t.ContentURI)
}
