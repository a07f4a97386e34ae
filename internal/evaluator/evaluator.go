// Package evaluator drives repeated selection passes over a tileset:
// completed loads are applied, stale content expires, the traversal runs,
// new loads are issued and the cache evicts what the pass did not touch.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lodtiles/internal/config"
	"github.com/banshee-data/lodtiles/internal/content"
	"github.com/banshee-data/lodtiles/internal/loader"
	"github.com/banshee-data/lodtiles/internal/monitor"
	"github.com/banshee-data/lodtiles/internal/monitoring"
	"github.com/banshee-data/lodtiles/internal/tilecache"
	"github.com/banshee-data/lodtiles/internal/tiles"
	"github.com/banshee-data/lodtiles/internal/tilestore"
	"github.com/banshee-data/lodtiles/internal/traversal"
	"github.com/banshee-data/lodtiles/internal/visibility"
)

// ErrMaxPasses is returned by Run when the pass limit is hit before the
// selection settles.
var ErrMaxPasses = errors.New("pass limit reached before selection settled")

// Options wires an Evaluator. Config and Source are required.
type Options struct {
	Config *config.TraversalConfig
	Source content.Source

	// Oracle defaults to visibility.VolumeOracle.
	Oracle traversal.VisibilityOracle
	// Recorder and Store receive a summary of every pass when set.
	Recorder *monitor.PassRecorder
	Store    *tilestore.Store
	// RunID groups recorded passes. Generated when empty.
	RunID string
	// Now defaults to time.Now.
	Now func() time.Time
}

// PassResult is the outcome of one Update.
type PassResult struct {
	Index int
	// Ready is true when every tile the pass wanted to render had
	// content available.
	Ready     bool
	Selected  []*tiles.Tile
	Requested int
	// Issued is how many requested tiles were handed to the loader.
	Issued      int
	Pending     int
	Loaded      int
	Failed      int
	Evicted     int
	CachedTiles int
	CachedBytes int64
	Duration    time.Duration
}

// Settled reports whether the selection is complete and nothing is still
// loading.
func (r PassResult) Settled() bool { return r.Ready && r.Pending == 0 }

// Evaluator owns the update goroutine's state. Its methods must be called
// from a single goroutine.
type Evaluator struct {
	tileset   *tiles.Tileset
	traversal *traversal.Offscreen
	cache     *tilecache.Cache
	loader    *loader.Loader
	cfg       *config.TraversalConfig

	recorder *monitor.PassRecorder
	store    *tilestore.Store
	runID    string
	now      func() time.Time

	// pointers holds loaded external tileset tiles. They are not cached,
	// but their content still expires.
	pointers map[*tiles.Tile]struct{}

	defaultExpire time.Duration
	stats         tiles.Statistics
	passes        int
}

// New builds an Evaluator for ts and starts its loader. Cancelling ctx
// stops in-flight fetches.
func New(ctx context.Context, ts *tiles.Tileset, opts Options) *Evaluator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyTraversalConfig()
	}
	oracle := opts.Oracle
	if oracle == nil {
		oracle = visibility.VolumeOracle{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = tilestore.NewRunID()
	}

	e := &Evaluator{
		tileset:       ts,
		traversal:     traversal.New(oracle, cfg.GetMinimumGeometricError()),
		cache:         tilecache.New(cfg.GetMaximumMemoryUsage()),
		cfg:           cfg,
		recorder:      opts.Recorder,
		store:         opts.Store,
		runID:         runID,
		now:           now,
		pointers:      make(map[*tiles.Tile]struct{}),
		defaultExpire: cfg.GetDefaultExpire(),
	}
	e.loader = loader.New(ctx, opts.Source, loader.Options{
		Workers:     cfg.GetLoadWorkers(),
		MaxInFlight: cfg.GetMaximumSimultaneousRequests(),
		OnDestroy:   e.dropTile,
	})
	ts.Cache = e.cache
	e.applyDefaultExpire(ts.Root)
	return e
}

// RunID identifies the passes this evaluator records.
func (e *Evaluator) RunID() string { return e.runID }

// Statistics returns the counters as of the last pass.
func (e *Evaluator) Statistics() tiles.Statistics { return e.stats }

// Cache exposes the tile cache, mainly for inspection.
func (e *Evaluator) Cache() *tilecache.Cache { return e.cache }

// Traversal exposes the traversal, mainly for inspection.
func (e *Evaluator) Traversal() *traversal.Offscreen { return e.traversal }

// Update runs one pass for frame.
func (e *Evaluator) Update(frame *tiles.FrameState) PassResult {
	start := time.Now()
	now := e.now()
	res := PassResult{Index: e.passes}

	res.Loaded, res.Failed = e.applyCompleted(now)
	e.updateExpiration(now)

	e.cache.Reset()
	e.stats.Clear()
	res.Ready = e.traversal.SelectTiles(e.tileset, &e.stats, frame)

	requested := e.tileset.RequestedTiles()
	res.Requested = len(requested)
	res.Issued = e.loader.Request(requested)

	res.Evicted = e.cache.UnloadTiles(func(t *tiles.Tile) { t.UnloadContent() })
	e.stats.Evicted += res.Evicted

	res.Selected = e.tileset.SelectedTiles()
	res.Pending = e.loader.Pending()
	res.CachedTiles = e.cache.Len()
	res.CachedBytes = e.cache.TotalMemory()
	res.Duration = time.Since(start)
	e.passes++

	e.record(frame, res, now)
	return res
}

// applyCompleted moves finished loads into their final state. Renderable
// content enters the cache; external tilesets are grafted under their
// pointer tile.
func (e *Evaluator) applyCompleted(now time.Time) (loaded, failed int) {
	for _, r := range e.loader.Drain() {
		if err := loader.Apply(r, now); err != nil {
			failed++
			monitoring.Logf("evaluator: %v", err)
			continue
		}
		if !e.attached(r.Tile) {
			// finished after its external subtree was destroyed
			r.Tile.UnloadContent()
			continue
		}
		loaded++
		e.stats.ContentBytes += r.Info.ByteLength
		if r.Tile.HasTilesetContent() {
			e.pointers[r.Tile] = struct{}{}
			for _, child := range r.Tile.Children {
				e.applyDefaultExpire(child)
			}
			continue
		}
		e.cache.Add(r.Tile)
	}
	e.stats.Loaded += loaded
	e.stats.Failed += failed
	return loaded, failed
}

func (e *Evaluator) updateExpiration(now time.Time) {
	e.cache.Each(func(t *tiles.Tile) { t.UpdateExpiration(now) })
	for t := range e.pointers {
		if !e.attached(t) {
			// nested pointer inside a destroyed external subtree
			delete(e.pointers, t)
			continue
		}
		if t.UpdateExpiration(now) {
			monitoring.Debugf("evaluator: external tileset %s expired", t.ID)
		}
	}
}

// dropTile releases a tile of a destroyed external subtree.
func (e *Evaluator) dropTile(t *tiles.Tile) {
	e.cache.Remove(t)
	delete(e.pointers, t)
	t.UnloadContent()
}

func (e *Evaluator) attached(t *tiles.Tile) bool {
	for t.Parent != nil {
		t = t.Parent
	}
	return t == e.tileset.Root
}

// applyDefaultExpire gives content tiles without an expire.duration the
// configured default freshness.
func (e *Evaluator) applyDefaultExpire(root *tiles.Tile) {
	if e.defaultExpire <= 0 || root == nil {
		return
	}
	stack := []*tiles.Tile{root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !t.HasEmptyContent() && t.ExpireDuration == 0 {
			t.ExpireDuration = e.defaultExpire
		}
		stack = append(stack, t.Children...)
	}
}

func (e *Evaluator) record(frame *tiles.FrameState, res PassResult, now time.Time) {
	var frameNumber uint64
	if frame != nil {
		frameNumber = frame.FrameNumber
	}
	monitoring.Debugf("pass %d: visited=%d selected=%d requested=%d issued=%d pending=%d ready=%v cached=%d evicted=%d",
		res.Index, e.stats.Visited, e.stats.Selected, res.Requested, res.Issued, res.Pending, res.Ready, res.CachedTiles, res.Evicted)

	if e.recorder != nil {
		e.recorder.Record(monitor.PassSnapshot{
			RunID:        e.runID,
			Index:        res.Index,
			FrameNumber:  frameNumber,
			Visited:      e.stats.Visited,
			Selected:     e.stats.Selected,
			Requested:    res.Requested,
			Issued:       res.Issued,
			Pending:      res.Pending,
			Ready:        res.Ready,
			CachedTiles:  res.CachedTiles,
			ContentBytes: res.CachedBytes,
			Loaded:       res.Loaded,
			Failed:       res.Failed,
			Evicted:      res.Evicted,
			Duration:     res.Duration,
			Timestamp:    now,
		})
		ids := make([]string, len(res.Selected))
		for i, t := range res.Selected {
			ids[i] = t.ID
		}
		e.recorder.RecordSelection(ids)
	}

	if e.store != nil {
		err := e.store.RecordPass(&tilestore.PassRecord{
			RunID:        e.runID,
			PassIndex:    res.Index,
			Visited:      e.stats.Visited,
			Selected:     e.stats.Selected,
			Requested:    res.Requested,
			Pending:      res.Pending,
			Ready:        res.Ready,
			ContentBytes: res.CachedBytes,
			CreatedAt:    now.UnixNano(),
		})
		if err != nil {
			monitoring.Logf("evaluator: record pass %d: %v", res.Index, err)
		}
	}
}

// Run repeats Update until the selection settles, the configured pass
// limit is reached or ctx ends. Passes are spaced by update_interval. The
// last pass result is always returned.
func (e *Evaluator) Run(ctx context.Context, frame tiles.FrameState) (PassResult, error) {
	maxPasses := e.cfg.GetMaxPasses()
	interval := e.cfg.GetUpdateInterval()

	var res PassResult
	for i := 0; i < maxPasses; i++ {
		f := frame
		f.FrameNumber = frame.FrameNumber + uint64(i)
		f.Time = e.now()
		res = e.Update(&f)
		if res.Settled() {
			monitoring.Logf("selection settled after %d passes: %d tiles selected", i+1, len(res.Selected))
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(interval):
		}
	}
	return res, fmt.Errorf("%w: %d passes, %d pending", ErrMaxPasses, maxPasses, res.Pending)
}

// Close stops the loader and returns unfinished tiles to a requestable
// state.
func (e *Evaluator) Close() {
	for _, r := range e.loader.Close() {
		_ = loader.Apply(r, e.now())
	}
}
