package tilestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lodtiles/internal/content"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 2, version)

	for _, table := range []string{"tile_content", "traversal_passes"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.db")
	s, err := Open(path)
	require.NoError(t, err)
	payload := content.EncodeHeader(content.FormatB3DM, 1, []byte("mesh"))
	require.NoError(t, s.PutContent(context.Background(), "a.b3dm", payload))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Fetch(context.Background(), "a.b3dm")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestContent_PutFetch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := content.EncodeHeader(content.FormatPNTS, 1, []byte("v1"))
	second := content.EncodeHeader(content.FormatPNTS, 1, []byte("version two"))
	require.NoError(t, s.PutContent(ctx, "tiles/0.pnts", first))
	require.NoError(t, s.PutContent(ctx, "/tiles/0.pnts", second))

	got, err := s.Fetch(ctx, "tiles/0.pnts")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	entries, err := s.ListContent(ctx)
	require.NoError(t, err)
	want := []ContentEntry{{URI: "tiles/0.pnts", Format: "pnts", ByteLength: int64(len(second))}}
	if diff := cmp.Diff(want, entries, cmpopts.IgnoreFields(ContentEntry{}, "StoredAt")); diff != "" {
		t.Errorf("ListContent mismatch (-want +got):\n%s", diff)
	}
}

func TestContent_FetchMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Fetch(context.Background(), "nope.b3dm")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContent_PutRejectsUnknownPayload(t *testing.T) {
	s := openTestStore(t)
	err := s.PutContent(context.Background(), "x.b3dm", []byte("definitely not a tile"))
	assert.ErrorIs(t, err, content.ErrUnknownFormat)
}

func TestContent_StoreIsSource(t *testing.T) {
	var _ content.Source = (*Store)(nil)
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"tileset.json":     []byte(`{"asset":{"version":"1.0"}}`),
		"tiles/a.b3dm":     content.EncodeHeader(content.FormatB3DM, 1, nil),
		"tiles/sub/b.glb":  content.EncodeHeader(content.FormatGLB, 2, nil),
		"README.txt":       []byte("ignored"),
		"tiles/notes.yaml": []byte("ignored"),
	}
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}

	s := openTestStore(t)
	n, err := s.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := s.ListContent(context.Background())
	require.NoError(t, err)
	var uris []string
	for _, e := range entries {
		uris = append(uris, e.URI)
	}
	assert.Equal(t, []string{"tiles/a.b3dm", "tiles/sub/b.glb", "tileset.json"}, uris)

	got, err := s.Fetch(context.Background(), "tiles/sub/b.glb")
	require.NoError(t, err)
	assert.Equal(t, files["tiles/sub/b.glb"], got)
}

func TestImportDir_BadPayload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.b3dm"), []byte("b3dm"), 0o644))

	s := openTestStore(t)
	_, err := s.ImportDir(context.Background(), dir)
	assert.ErrorIs(t, err, content.ErrTruncated)
}

func TestPasses_RecordAndList(t *testing.T) {
	s := openTestStore(t)
	run := NewRunID()
	other := NewRunID()

	for i := 2; i >= 0; i-- {
		rec := &PassRecord{RunID: run, PassIndex: i, Visited: 10 + i, Selected: i, Requested: 3 - i, Ready: i == 2, ContentBytes: int64(100 * i)}
		require.NoError(t, s.RecordPass(rec))
		assert.NotEmpty(t, rec.PassID)
		assert.NotZero(t, rec.CreatedAt)
	}
	require.NoError(t, s.RecordPass(&PassRecord{RunID: other, CreatedAt: time.Now().Add(time.Hour).UnixNano()}))

	passes, err := s.ListPasses(run)
	require.NoError(t, err)
	require.Len(t, passes, 3)
	for i, p := range passes {
		assert.Equal(t, i, p.PassIndex)
		assert.Equal(t, 10+i, p.Visited)
		assert.Equal(t, i == 2, p.Ready)
		assert.EqualValues(t, 100*i, p.ContentBytes)
	}

	runs, err := s.ListRuns()
	require.NoError(t, err)
	assert.Equal(t, []string{other, run}, runs)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		assert.Same(t, other, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, 5, calls)
	})
}
