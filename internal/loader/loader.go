// Package loader turns a pass's requested tiles into asynchronous content
// fetches. Requests are issued and results applied on the update
// goroutine; only the fetch and header decode run on workers, so tile
// state never changes underneath a running traversal.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lodtiles/internal/content"
	"github.com/banshee-data/lodtiles/internal/monitoring"
	"github.com/banshee-data/lodtiles/internal/tiles"
)

// ErrClosed is reported for requests still in flight when the loader closes.
var ErrClosed = errors.New("loader closed")

// Options configures a Loader.
type Options struct {
	// Workers is the number of concurrent fetch goroutines.
	Workers int
	// MaxInFlight caps outstanding requests. Tiles beyond the cap stay
	// requestable and are picked up by a later pass.
	MaxInFlight int
	// OnDestroy is called for every tile of an external subtree dropped
	// when its expired pointer is re-requested.
	OnDestroy func(*tiles.Tile)
}

// Result is a completed fetch waiting to be applied.
type Result struct {
	Tile     *tiles.Tile
	Data     []byte
	Info     content.Info
	Err      error
	Duration time.Duration

	wasExpired bool
}

type job struct {
	tile       *tiles.Tile
	uri        string
	wasExpired bool
}

// Loader fetches tile content through a content.Source.
type Loader struct {
	source content.Source
	opts   Options

	jobs     chan job
	inFlight map[*tiles.Tile]bool

	mu   sync.Mutex
	done []Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a loader and starts its workers. Cancelling ctx or calling
// Close stops them.
func New(ctx context.Context, source content.Source, opts Options) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = opts.Workers
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loader{
		source:   source,
		opts:     opts,
		jobs:     make(chan job, opts.MaxInFlight),
		inFlight: make(map[*tiles.Tile]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Request issues fetches for requested tiles in order until MaxInFlight is
// reached and returns how many were issued. Issued tiles move to LOADING.
// An expired pointer tile loses its external subtree first, since the
// refreshed tileset replaces it.
func (l *Loader) Request(requested []*tiles.Tile) int {
	if l.closed {
		return 0
	}
	issued := 0
	for _, tile := range requested {
		if len(l.inFlight) >= l.opts.MaxInFlight {
			break
		}
		if l.inFlight[tile] || tile.ContentURI == "" {
			continue
		}
		wasExpired := tile.ContentExpired()
		if wasExpired && tile.HasTilesetContent() {
			tile.DestroySubtree(l.opts.OnDestroy)
		}
		tile.SetContentState(tiles.ContentLoading)
		l.inFlight[tile] = true
		// never blocks: at most MaxInFlight jobs exist
		l.jobs <- job{tile: tile, uri: tile.ContentURI, wasExpired: wasExpired}
		issued++
	}
	if skipped := len(requested) - issued; skipped > 0 {
		monitoring.Debugf("loader: issued %d of %d requests, %d in flight", issued, len(requested), len(l.inFlight))
	}
	return issued
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case j := <-l.jobs:
			l.complete(l.fetch(j))
		}
	}
}

func (l *Loader) fetch(j job) Result {
	start := time.Now()
	res := Result{Tile: j.tile, wasExpired: j.wasExpired}
	data, err := l.source.Fetch(l.ctx, j.uri)
	if err == nil {
		res.Info, err = content.Decode(data)
	}
	if err != nil {
		res.Err = fmt.Errorf("load %s (%s): %w", j.tile.ID, j.uri, err)
	} else {
		res.Data = data
	}
	res.Duration = time.Since(start)
	return res
}

func (l *Loader) complete(r Result) {
	l.mu.Lock()
	l.done = append(l.done, r)
	l.mu.Unlock()
}

// Drain returns the results completed since the last call without
// blocking. Call Apply on each from the update goroutine.
func (l *Loader) Drain() []Result {
	l.mu.Lock()
	done := l.done
	l.done = nil
	l.mu.Unlock()

	for _, r := range done {
		delete(l.inFlight, r.Tile)
	}
	return done
}

// Pending is the number of requests issued but not yet drained.
func (l *Loader) Pending() int { return len(l.inFlight) }

// Close stops the workers and fails every request that had not completed.
// The failed results are returned so callers can apply them and return
// tiles to a requestable state.
func (l *Loader) Close() []Result {
	if l.closed {
		return nil
	}
	l.closed = true
	l.cancel()
	l.wg.Wait()

	results := l.Drain()
	for len(l.jobs) > 0 {
		j := <-l.jobs
		results = append(results, Result{Tile: j.tile, Err: ErrClosed, wasExpired: j.wasExpired})
		delete(l.inFlight, j.tile)
	}
	return results
}

// Apply moves a tile to its post-load state. Successful tileset payloads
// are parsed and attached beneath the pointer tile; renderable payloads
// become AVAILABLE. Failures leave the tile UNLOADED, or EXPIRED if it was
// being refreshed, so a later pass requests it again.
func Apply(r Result, now time.Time) error {
	tile := r.Tile
	if r.Err != nil {
		revert(r)
		return r.Err
	}
	if r.Info.IsTileset() {
		root, err := tiles.ParseExternal(r.Data, tile)
		if err != nil {
			revert(r)
			return fmt.Errorf("load %s: external tileset: %w", tile.ID, err)
		}
		tile.AttachExternal(root)
		tile.MarkLoaded(string(r.Info.Format), r.Info.ByteLength, now)
		return nil
	}
	tile.Kind = tiles.ContentRenderable
	tile.MarkLoaded(string(r.Info.Format), r.Info.ByteLength, now)
	return nil
}

func revert(r Result) {
	if r.wasExpired {
		r.Tile.SetContentState(tiles.ContentExpired)
		return
	}
	r.Tile.SetContentState(tiles.ContentUnloaded)
}
