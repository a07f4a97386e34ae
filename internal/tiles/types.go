package tiles

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Refinement is the LOD policy between a tile and its children.
type Refinement uint8

const (
	// RefineReplace renders children instead of the parent.
	RefineReplace Refinement = iota
	// RefineAdd renders children in addition to the parent.
	RefineAdd
)

func (r Refinement) String() string {
	switch r {
	case RefineAdd:
		return "ADD"
	case RefineReplace:
		return "REPLACE"
	default:
		return fmt.Sprintf("Refinement(%d)", uint8(r))
	}
}

// ContentKind tags what a tile's content is.
type ContentKind uint8

const (
	// ContentEmpty tiles carry no payload; they only group children.
	ContentEmpty ContentKind = iota
	// ContentTileset tiles point at an external tileset whose root becomes
	// the tile's only child once resolved.
	ContentTileset
	// ContentRenderable tiles carry a renderable payload (b3dm, pnts, glb...).
	ContentRenderable
)

func (k ContentKind) String() string {
	switch k {
	case ContentEmpty:
		return "EMPTY"
	case ContentTileset:
		return "TILESET_POINTER"
	case ContentRenderable:
		return "RENDERABLE"
	default:
		return fmt.Sprintf("ContentKind(%d)", uint8(k))
	}
}

// ContentState is the lifecycle stage of a tile's payload.
type ContentState int32

const (
	ContentUnloaded ContentState = iota
	ContentLoading
	ContentAvailable
	ContentExpired
)

func (s ContentState) String() string {
	switch s {
	case ContentUnloaded:
		return "UNLOADED"
	case ContentLoading:
		return "LOADING"
	case ContentAvailable:
		return "AVAILABLE"
	case ContentExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("ContentState(%d)", int32(s))
	}
}

// Intersect classifies a volume against a query volume.
type Intersect int8

const (
	Outside Intersect = iota - 1
	Intersecting
	Inside
)

func (i Intersect) String() string {
	switch i {
	case Outside:
		return "OUTSIDE"
	case Intersecting:
		return "INTERSECTING"
	case Inside:
		return "INSIDE"
	default:
		return fmt.Sprintf("Intersect(%d)", int8(i))
	}
}

// FrameState is the evaluation context for one pass.
type FrameState struct {
	FrameNumber uint64
	Time        time.Time

	// Query bounds the region being evaluated. Nil means unbounded.
	Query *r3.Box
	// Position is the viewer location tested against viewer request
	// volumes. Nil disables request volume checks.
	Position *r3.Vec
}

// Statistics collects traversal and loading counters.
// Visited, Selected and Requested are per pass; the rest accumulate.
type Statistics struct {
	Visited   int
	Selected  int
	Requested int

	Loaded       int
	Failed       int
	Evicted      int
	ContentBytes int64
}

// Clear resets the per-pass counters.
func (s *Statistics) Clear() {
	s.Visited = 0
	s.Selected = 0
	s.Requested = 0
}
