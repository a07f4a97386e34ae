package tiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/lodtiles/internal/monitoring"
)

var (
	// ErrInvalidTileset is returned for structurally broken tileset JSON.
	ErrInvalidTileset = errors.New("invalid tileset")
	// ErrUnsupportedVersion is returned for asset versions this parser
	// does not understand.
	ErrUnsupportedVersion = errors.New("unsupported tileset version")
)

var supportedVersions = map[string]bool{"0.0": true, "1.0": true, "1.1": true}

type tilesetJSON struct {
	Asset struct {
		Version        string `json:"version"`
		TilesetVersion string `json:"tilesetVersion,omitempty"`
	} `json:"asset"`
	GeometricError *float64  `json:"geometricError"`
	Root           *tileJSON `json:"root"`
}

type tileJSON struct {
	BoundingVolume      *volumeJSON   `json:"boundingVolume"`
	ViewerRequestVolume *volumeJSON   `json:"viewerRequestVolume,omitempty"`
	GeometricError      *float64      `json:"geometricError"`
	Refine              string        `json:"refine,omitempty"`
	Transform           []float64     `json:"transform,omitempty"`
	Content             *contentJSON  `json:"content,omitempty"`
	Contents            []contentJSON `json:"contents,omitempty"`
	Expire              *expireJSON   `json:"expire,omitempty"`
	Children            []*tileJSON   `json:"children,omitempty"`
}

type contentJSON struct {
	URI            string      `json:"uri,omitempty"`
	URL            string      `json:"url,omitempty"` // pre-1.0 spelling
	BoundingVolume *volumeJSON `json:"boundingVolume,omitempty"`
}

type expireJSON struct {
	Duration float64 `json:"duration"` // seconds
}

type volumeJSON struct {
	Box    []float64 `json:"box,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
	Region []float64 `json:"region,omitempty"`
}

// ParseTileset parses a tileset JSON document loaded from basePath.
// Content URIs are resolved against basePath.
func ParseTileset(data []byte, basePath string) (*Tileset, error) {
	doc, err := decodeTileset(data)
	if err != nil {
		return nil, err
	}
	if doc.GeometricError == nil {
		return nil, fmt.Errorf("%w: missing geometricError", ErrInvalidTileset)
	}
	if *doc.GeometricError < 0 {
		return nil, fmt.Errorf("%w: negative geometricError %g", ErrInvalidTileset, *doc.GeometricError)
	}

	root, err := buildTree(doc.Root, basePath, nil, "root")
	if err != nil {
		return nil, err
	}
	return &Tileset{
		Root:           root,
		GeometricError: *doc.GeometricError,
		AssetVersion:   doc.Asset.Version,
		BasePath:       basePath,
	}, nil
}

// ParseExternal parses an external tileset referenced by pointer and
// returns its root, built beneath pointer so transforms and refinement
// inherit from it. The caller attaches it with pointer.AttachExternal.
func ParseExternal(data []byte, pointer *Tile) (*Tile, error) {
	doc, err := decodeTileset(data)
	if err != nil {
		return nil, err
	}
	return buildTree(doc.Root, pointer.ContentURI, pointer, pointer.ID+"/ext")
}

func decodeTileset(data []byte) (*tilesetJSON, error) {
	var doc tilesetJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTileset, err)
	}
	if doc.Asset.Version == "" {
		return nil, fmt.Errorf("%w: missing asset.version", ErrInvalidTileset)
	}
	if !supportedVersions[doc.Asset.Version] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, doc.Asset.Version)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalidTileset)
	}
	return &doc, nil
}

type buildItem struct {
	node   *tileJSON
	parent *Tile
	id     string
}

// buildTree converts the JSON hierarchy with an explicit stack so deep
// tilesets cannot exhaust the goroutine stack.
func buildTree(rootNode *tileJSON, basePath string, parent *Tile, rootID string) (*Tile, error) {
	var root *Tile
	stack := []buildItem{{node: rootNode, parent: parent, id: rootID}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t, err := buildTile(item.node, basePath, item.parent, item.id)
		if err != nil {
			return nil, err
		}
		if root == nil {
			root = t
		} else {
			item.parent.Children = append(item.parent.Children, t)
		}

		t.Children = make([]*Tile, 0, len(item.node.Children))
		// reverse push keeps children in declared order
		for i := len(item.node.Children) - 1; i >= 0; i-- {
			child := item.node.Children[i]
			if child == nil {
				return nil, fmt.Errorf("%w: tile %s has a null child", ErrInvalidTileset, item.id)
			}
			stack = append(stack, buildItem{node: child, parent: t, id: item.id + "/" + strconv.Itoa(i)})
		}
	}
	return root, nil
}

func buildTile(n *tileJSON, basePath string, parent *Tile, id string) (*Tile, error) {
	t := &Tile{ID: id, Parent: parent, Transform: Identity}
	if parent != nil {
		t.Depth = parent.Depth + 1
		t.Transform = parent.Transform
		t.Refine = parent.Refine
	}

	if len(n.Transform) > 0 {
		if len(n.Transform) != 16 {
			return nil, fmt.Errorf("%w: tile %s transform needs 16 values, got %d", ErrInvalidTileset, id, len(n.Transform))
		}
		var local Matrix4
		copy(local[:], n.Transform)
		t.Transform = t.Transform.Mul(local)
	}

	switch strings.ToUpper(n.Refine) {
	case "":
		if parent == nil {
			monitoring.Debugf("tile %s: root has no refine, defaulting to REPLACE", id)
			t.Refine = RefineReplace
		}
	case "ADD":
		t.Refine = RefineAdd
	case "REPLACE":
		t.Refine = RefineReplace
	default:
		return nil, fmt.Errorf("%w: tile %s refine %q", ErrInvalidTileset, id, n.Refine)
	}

	switch {
	case n.GeometricError != nil:
		if *n.GeometricError < 0 {
			return nil, fmt.Errorf("%w: tile %s negative geometricError %g", ErrInvalidTileset, id, *n.GeometricError)
		}
		t.GeometricError = *n.GeometricError
	case parent != nil:
		monitoring.Logf("tile %s: missing geometricError, using parent's %g", id, parent.GeometricError)
		t.GeometricError = parent.GeometricError
	default:
		return nil, fmt.Errorf("%w: tile %s missing geometricError", ErrInvalidTileset, id)
	}

	if n.BoundingVolume == nil {
		return nil, fmt.Errorf("%w: tile %s missing boundingVolume", ErrInvalidTileset, id)
	}
	bv, err := n.BoundingVolume.volume(t.Transform)
	if err != nil {
		return nil, fmt.Errorf("%w: tile %s boundingVolume: %v", ErrInvalidTileset, id, err)
	}
	t.BoundingVolume = bv

	if n.ViewerRequestVolume != nil {
		v, err := n.ViewerRequestVolume.volume(t.Transform)
		if err != nil {
			return nil, fmt.Errorf("%w: tile %s viewerRequestVolume: %v", ErrInvalidTileset, id, err)
		}
		t.ViewerRequestVolume = &v
	}

	content := n.Content
	if content == nil && len(n.Contents) > 0 {
		if len(n.Contents) > 1 {
			monitoring.Debugf("tile %s: %d contents, only the first is used", id, len(n.Contents))
		}
		content = &n.Contents[0]
	}
	if content != nil {
		uri := content.URI
		if uri == "" {
			uri = content.URL
		}
		if uri == "" {
			return nil, fmt.Errorf("%w: tile %s content has no uri", ErrInvalidTileset, id)
		}
		t.Kind = ContentRenderable
		t.ContentURI = ResolveURI(basePath, uri)
		if content.BoundingVolume != nil {
			v, err := content.BoundingVolume.volume(t.Transform)
			if err != nil {
				return nil, fmt.Errorf("%w: tile %s content boundingVolume: %v", ErrInvalidTileset, id, err)
			}
			t.ContentBoundingVolume = &v
		}
	}

	if n.Expire != nil && n.Expire.Duration > 0 {
		t.ExpireDuration = time.Duration(n.Expire.Duration * float64(time.Second))
	}
	return t, nil
}

func (v *volumeJSON) volume(transform Matrix4) (Volume, error) {
	switch {
	case len(v.Box) > 0:
		return NewBoxVolume(v.Box, transform)
	case len(v.Sphere) > 0:
		return NewSphereVolume(v.Sphere, transform)
	case len(v.Region) > 0:
		return NewRegionVolume(v.Region)
	default:
		return Volume{}, errors.New("no box, sphere or region")
	}
}

// ResolveURI resolves a content URI relative to the tileset it appears in.
// Absolute URLs pass through; URL bases use RFC 3986 resolution; plain
// paths are joined against the base directory.
func ResolveURI(base, uri string) string {
	if ref, err := url.Parse(uri); err == nil && ref.IsAbs() {
		return uri
	}
	if b, err := url.Parse(base); err == nil && b.IsAbs() {
		ref, err := url.Parse(uri)
		if err != nil {
			return uri
		}
		return b.ResolveReference(ref).String()
	}
	if strings.HasPrefix(uri, "/") {
		return uri
	}
	return path.Join(path.Dir(base), uri)
}

func isTilesetURI(uri string) bool {
	if u, err := url.Parse(uri); err == nil {
		uri = u.Path
	}
	return strings.EqualFold(path.Ext(uri), ".json")
}
