package tiles

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTileset = `{
  "asset": {"version": "1.0"},
  "geometricError": 500,
  "root": {
    "boundingVolume": {"box": [0,0,0, 100,0,0, 0,100,0, 0,0,10]},
    "geometricError": 100,
    "refine": "REPLACE",
    "content": {"uri": "root.b3dm"},
    "children": [
      {
        "boundingVolume": {"box": [-50,0,0, 50,0,0, 0,100,0, 0,0,10]},
        "geometricError": 10,
        "content": {"uri": "tiles/left.b3dm"},
        "expire": {"duration": 30}
      },
      {
        "boundingVolume": {"sphere": [50,0,0, 50]},
        "geometricError": 10,
        "refine": "add",
        "children": [
          {
            "boundingVolume": {"box": [50,0,0, 10,0,0, 0,10,0, 0,0,10]},
            "geometricError": 0,
            "content": {"url": "leaf.pnts", "boundingVolume": {"sphere": [50,0,0, 5]}}
          }
        ]
      },
      {
        "boundingVolume": {"box": [0,0,0, 100,0,0, 0,100,0, 0,0,10]},
        "viewerRequestVolume": {"sphere": [0,0,0, 1000]},
        "geometricError": 50,
        "content": {"uri": "external/tileset.json"}
      }
    ]
  }
}`

func TestParseTileset(t *testing.T) {
	ts, err := ParseTileset([]byte(sampleTileset), "data/tileset.json")
	require.NoError(t, err)

	assert.Equal(t, 500.0, ts.GeometricError)
	assert.Equal(t, "1.0", ts.AssetVersion)
	assert.Equal(t, 5, ts.Count())

	root := ts.Root
	require.Len(t, root.Children, 3)
	assert.Equal(t, "root", root.ID)
	assert.Equal(t, RefineReplace, root.Refine)
	assert.Equal(t, ContentRenderable, root.Kind)
	assert.Equal(t, "data/root.b3dm", root.ContentURI)

	left := root.Children[0]
	assert.Equal(t, "root/0", left.ID)
	assert.Equal(t, RefineReplace, left.Refine, "refine inherits from parent")
	assert.Equal(t, "data/tiles/left.b3dm", left.ContentURI)
	assert.Equal(t, 30*time.Second, left.ExpireDuration)
	assert.Equal(t, 1, left.Depth)

	middle := root.Children[1]
	assert.Equal(t, RefineAdd, middle.Refine)
	assert.Equal(t, ContentEmpty, middle.Kind)
	assert.True(t, middle.HasEmptyContent())
	assert.Equal(t, VolumeSphere, middle.BoundingVolume.Kind)

	leaf := middle.Children[0]
	assert.Equal(t, RefineAdd, leaf.Refine)
	assert.Equal(t, "data/leaf.pnts", leaf.ContentURI)
	require.NotNil(t, leaf.ContentBoundingVolume)
	assert.Equal(t, 45.0, leaf.ContentBoundingVolume.Bounds.Min.X)

	ext := root.Children[2]
	require.NotNil(t, ext.ViewerRequestVolume)
	assert.True(t, ext.IsExternalPointer())
	assert.Equal(t, ContentRenderable, ext.Kind, "pointer kind is only known once the content loads")
}

func TestParseTileset_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `{`, ErrInvalidTileset},
		{"missing asset", `{"geometricError": 1, "root": {}}`, ErrInvalidTileset},
		{"bad version", `{"asset":{"version":"2.0"},"geometricError":1,"root":{}}`, ErrUnsupportedVersion},
		{"missing root", `{"asset":{"version":"1.0"},"geometricError":1}`, ErrInvalidTileset},
		{"missing geometric error", `{"asset":{"version":"1.0"},"root":{"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0}}`, ErrInvalidTileset},
		{"negative geometric error", `{"asset":{"version":"1.0"},"geometricError":-1,"root":{"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0}}`, ErrInvalidTileset},
		{"missing volume", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"geometricError":0}}`, ErrInvalidTileset},
		{"short box", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"boundingVolume":{"box":[0,0,0]},"geometricError":0}}`, ErrInvalidTileset},
		{"bad refine", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0,"refine":"MERGE"}}`, ErrInvalidTileset},
		{"root without error", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"boundingVolume":{"sphere":[0,0,0,1]}}}`, ErrInvalidTileset},
		{"content without uri", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0,"content":{}}}`, ErrInvalidTileset},
		{"bad transform", `{"asset":{"version":"1.0"},"geometricError":1,"root":{"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0,"transform":[1,0,0]}}`, ErrInvalidTileset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTileset([]byte(tc.doc), "tileset.json")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestParseTileset_ChildInheritsMissingGeometricError(t *testing.T) {
	doc := `{"asset":{"version":"1.0"},"geometricError":8,"root":{
		"boundingVolume":{"sphere":[0,0,0,10]},"geometricError":4,
		"children":[{"boundingVolume":{"sphere":[0,0,0,5]}}]}}`
	ts, err := ParseTileset([]byte(doc), "tileset.json")
	require.NoError(t, err)
	assert.Equal(t, 4.0, ts.Root.Children[0].GeometricError)
}

func TestParseTileset_Transform(t *testing.T) {
	doc := `{"asset":{"version":"1.0"},"geometricError":8,"root":{
		"transform":[1,0,0,0, 0,1,0,0, 0,0,1,0, 100,200,300,1],
		"boundingVolume":{"sphere":[0,0,0,10]},"geometricError":4,
		"children":[{
			"transform":[2,0,0,0, 0,2,0,0, 0,0,2,0, 1,0,0,1],
			"boundingVolume":{"sphere":[0,0,0,1]},"geometricError":0}]}}`
	ts, err := ParseTileset([]byte(doc), "tileset.json")
	require.NoError(t, err)

	root := ts.Root.BoundingVolume.Bounds
	assert.Equal(t, 90.0, root.Min.X)
	assert.Equal(t, 310.0, root.Max.Z)

	// child: scale 2 then translate (1,0,0), then the root translation
	child := ts.Root.Children[0].BoundingVolume.Bounds
	assert.InDelta(t, 99.0, child.Min.X, 1e-9)
	assert.InDelta(t, 103.0, child.Max.X, 1e-9)
	assert.InDelta(t, 198.0, child.Min.Y, 1e-9)
}

func TestParseTileset_ContentsArray(t *testing.T) {
	doc := `{"asset":{"version":"1.1"},"geometricError":8,"root":{
		"boundingVolume":{"sphere":[0,0,0,10]},"geometricError":4,
		"contents":[{"uri":"a.glb"},{"uri":"b.glb"}]}}`
	ts, err := ParseTileset([]byte(doc), "https://example.com/sets/tileset.json")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/sets/a.glb", ts.Root.ContentURI)
}

func TestParseExternal(t *testing.T) {
	ts, err := ParseTileset([]byte(sampleTileset), "data/tileset.json")
	require.NoError(t, err)
	pointer := ts.Root.Children[2]

	sub := `{"asset":{"version":"1.0"},"geometricError":50,"root":{
		"boundingVolume":{"sphere":[0,0,0,10]},"geometricError":5,
		"content":{"uri":"sub.b3dm"},
		"children":[{"boundingVolume":{"sphere":[0,0,0,5]},"geometricError":0,"content":{"uri":"deeper/leaf.b3dm"}}]}}`
	subRoot, err := ParseExternal([]byte(sub), pointer)
	require.NoError(t, err)
	pointer.AttachExternal(subRoot)

	assert.True(t, pointer.HasTilesetContent())
	assert.Same(t, pointer, subRoot.Parent)
	assert.Equal(t, "root/2/ext", subRoot.ID)
	assert.Equal(t, RefineReplace, subRoot.Refine)
	assert.Equal(t, 2, subRoot.Depth)

	var uris []string
	ts.Walk(func(tile *Tile) bool {
		if tile.Depth >= 2 && tile.ContentURI != "" {
			uris = append(uris, tile.ContentURI)
		}
		return true
	})
	want := []string{"data/external/sub.b3dm", "data/external/deeper/leaf.b3dm", "data/leaf.pnts"}
	if diff := cmp.Diff(want, uris, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("content URIs mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveURI(t *testing.T) {
	cases := []struct {
		base, uri, want string
	}{
		{"tileset.json", "a.b3dm", "a.b3dm"},
		{"data/tileset.json", "../b.b3dm", "b.b3dm"},
		{"data/tileset.json", "/abs/c.b3dm", "/abs/c.b3dm"},
		{"https://host/x/tileset.json", "y/z.b3dm", "https://host/x/y/z.b3dm"},
		{"data/tileset.json", "https://cdn/q.b3dm", "https://cdn/q.b3dm"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveURI(tc.base, tc.uri), "ResolveURI(%q, %q)", tc.base, tc.uri)
	}
}
