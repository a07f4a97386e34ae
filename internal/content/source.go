package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source fetches raw payload bytes for a resolved content URI.
type Source interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ErrOutsideRoot is returned when a URI escapes a FileSource root.
var ErrOutsideRoot = errors.New("uri escapes source root")

// maxPayloadSize caps a single fetch.
const maxPayloadSize = 256 * 1024 * 1024

// FileSource reads content from a directory tree.
type FileSource struct {
	Root string
}

// Fetch reads uri relative to Root.
func (s FileSource) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(strings.TrimPrefix(uri, "/"))
	full := filepath.Join(s.Root, rel)
	within, err := filepath.Rel(filepath.Clean(s.Root), full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %q", ErrOutsideRoot, uri)
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("failed to stat content %q: %w", uri, err)
	}
	if info.Size() > maxPayloadSize {
		return nil, fmt.Errorf("content %q too large: %d bytes (max %d)", uri, info.Size(), maxPayloadSize)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read content %q: %w", uri, err)
	}
	return data, nil
}

// HTTPSource fetches content over HTTP. Relative URIs are resolved against
// BaseURL.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns an HTTPSource with a bounded request timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch performs a GET for uri.
func (s *HTTPSource) Fetch(ctx context.Context, uri string) ([]byte, error) {
	target, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", target, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: unexpected status %s", target, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", target, err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("content %q too large (max %d bytes)", target, maxPayloadSize)
	}
	return data, nil
}

func (s *HTTPSource) resolve(uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	if ref.IsAbs() || s.BaseURL == "" {
		return uri, nil
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", s.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}
