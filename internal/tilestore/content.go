package tilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/lodtiles/internal/content"
	"github.com/banshee-data/lodtiles/internal/monitoring"
)

// ErrNotFound is returned by Fetch for URIs with no stored payload.
var ErrNotFound = errors.New("tile content not found")

// importable lists the file extensions ImportDir stores.
var importable = map[string]bool{
	".json": true,
	".b3dm": true,
	".i3dm": true,
	".pnts": true,
	".cmpt": true,
	".glb":  true,
}

// ContentEntry describes a stored payload without its bytes.
type ContentEntry struct {
	URI        string `json:"uri"`
	Format     string `json:"format"`
	ByteLength int64  `json:"byte_length"`
	StoredAt   int64  `json:"stored_at"`
}

func normalizeURI(uri string) string {
	return strings.TrimPrefix(path.Clean("/"+uri), "/")
}

// PutContent stores data under uri, replacing any previous payload. The
// payload must decode as a known tile format or a tileset document.
func (s *Store) PutContent(ctx context.Context, uri string, data []byte) error {
	info, err := content.Decode(data)
	if err != nil {
		return fmt.Errorf("put %s: %w", uri, err)
	}
	key := normalizeURI(uri)
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tile_content (uri, data, format, byte_length, stored_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET
				data = excluded.data,
				format = excluded.format,
				byte_length = excluded.byte_length,
				stored_at = excluded.stored_at`,
			key, data, string(info.Format), info.ByteLength, time.Now().UnixNano(),
		)
		return err
	})
}

// Fetch returns the payload stored under uri. It makes the store usable as
// a content.Source.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM tile_content WHERE uri = ?`, normalizeURI(uri),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	return data, nil
}

// ListContent returns stored payload metadata ordered by URI.
func (s *Store) ListContent(ctx context.Context) ([]ContentEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uri, format, byte_length, stored_at FROM tile_content ORDER BY uri`)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var entries []ContentEntry
	for rows.Next() {
		var e ContentEntry
		if err := rows.Scan(&e.URI, &e.Format, &e.ByteLength, &e.StoredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportDir stores every tileset and tile payload under root, keyed by its
// slash-separated path relative to root. It returns the number of files
// stored.
func (s *Store) ImportDir(ctx context.Context, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !importable[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if err := s.PutContent(ctx, filepath.ToSlash(rel), data); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("import %s: %w", root, err)
	}
	monitoring.Logf("tilestore: imported %d files from %s", count, root)
	return count, nil
}
