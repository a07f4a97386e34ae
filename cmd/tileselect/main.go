// Command tileselect evaluates a 3D tileset offscreen: it repeatedly
// selects tiles for a query region, loading content until the selection
// settles, then prints the selected tiles.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lodtiles/internal/config"
	"github.com/banshee-data/lodtiles/internal/content"
	"github.com/banshee-data/lodtiles/internal/evaluator"
	"github.com/banshee-data/lodtiles/internal/monitor"
	"github.com/banshee-data/lodtiles/internal/monitoring"
	"github.com/banshee-data/lodtiles/internal/tiles"
	"github.com/banshee-data/lodtiles/internal/tilestore"
	"github.com/banshee-data/lodtiles/internal/version"
)

var (
	tilesetPath = flag.String("tileset", "tileset.json", "Tileset JSON: a file path, or a URI within -db or -http-base")
	configPath  = flag.String("config", "", "Traversal config JSON (defaults apply when empty)")
	dbPath      = flag.String("db", "", "SQLite tile store; used as the content source when set")
	importDir   = flag.String("import", "", "Directory to import into -db before running")
	httpBase    = flag.String("http-base", "", "Fetch content over HTTP relative to this URL")
	minCorner   = flag.String("min", "", "Query box minimum corner x,y,z (unbounded when empty)")
	maxCorner   = flag.String("max", "", "Query box maximum corner x,y,z")
	position    = flag.String("position", "", "Viewer position x,y,z for viewer request volumes")
	listen      = flag.String("listen", "", "Serve pass history and debug handlers on this address")
	plotPath    = flag.String("plot", "", "Write a PNG plot of the pass history to this path")
	jsonPath    = flag.String("json", "", "Write the selection as JSON to this path (- for stdout)")
	verbose     = flag.Bool("v", false, "Verbose logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// selectedTile is the JSON form of one selected tile.
type selectedTile struct {
	ID             string  `json:"id"`
	URI            string  `json:"uri"`
	Depth          int     `json:"depth"`
	GeometricError float64 `json:"geometric_error"`
	Format         string  `json:"format"`
	Bytes          int64   `json:"bytes"`
}

type selectionReport struct {
	RunID    string         `json:"run_id"`
	Passes   int            `json:"passes"`
	Ready    bool           `json:"ready"`
	Pending  int            `json:"pending"`
	Selected []selectedTile `json:"selected"`
}

// parseVec parses "x,y,z".
func parseVec(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		v[i] = f
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

// buildFrame turns the query flags into a frame state.
func buildFrame(minStr, maxStr, posStr string) (tiles.FrameState, error) {
	var frame tiles.FrameState
	if (minStr == "") != (maxStr == "") {
		return frame, errors.New("-min and -max must be given together")
	}
	if minStr != "" {
		lo, err := parseVec(minStr)
		if err != nil {
			return frame, fmt.Errorf("-min: %w", err)
		}
		hi, err := parseVec(maxStr)
		if err != nil {
			return frame, fmt.Errorf("-max: %w", err)
		}
		if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
			return frame, fmt.Errorf("-min %v exceeds -max %v", lo, hi)
		}
		frame.Query = &r3.Box{Min: lo, Max: hi}
	}
	if posStr != "" {
		p, err := parseVec(posStr)
		if err != nil {
			return frame, fmt.Errorf("-position: %w", err)
		}
		frame.Position = &p
	}
	return frame, nil
}

// resolveSource picks where content comes from and the URI of the root
// tileset within it.
func resolveSource(tileset, httpBase string, store *tilestore.Store) (content.Source, string) {
	switch {
	case httpBase != "":
		return content.NewHTTPSource(httpBase), tileset
	case store != nil:
		return store, tileset
	default:
		return content.FileSource{Root: filepath.Dir(tileset)}, filepath.Base(tileset)
	}
}

func loadTileset(ctx context.Context, src content.Source, uri string) (*tiles.Tileset, error) {
	data, err := src.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tileset: %w", err)
	}
	ts, err := tiles.ParseTileset(data, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tileset %s: %w", uri, err)
	}
	return ts, nil
}

func buildReport(runID string, res evaluator.PassResult) selectionReport {
	report := selectionReport{
		RunID:    runID,
		Passes:   res.Index + 1,
		Ready:    res.Ready,
		Pending:  res.Pending,
		Selected: make([]selectedTile, 0, len(res.Selected)),
	}
	for _, t := range res.Selected {
		report.Selected = append(report.Selected, selectedTile{
			ID:             t.ID,
			URI:            t.ContentURI,
			Depth:          t.Depth,
			GeometricError: t.GeometricError,
			Format:         t.ContentFormat(),
			Bytes:          t.ContentBytes(),
		})
	}
	return report
}

func writeReport(w io.Writer, report selectionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	frame, err := buildFrame(*minCorner, *maxCorner, *position)
	if err != nil {
		log.Fatalf("invalid query: %v", err)
	}

	cfg := config.EmptyTraversalConfig()
	if *configPath != "" {
		cfg, err = config.LoadTraversalConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *tilestore.Store
	if *dbPath != "" {
		store, err = tilestore.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open tile store: %v", err)
		}
		defer store.Close()
	}
	if *importDir != "" {
		if store == nil {
			log.Fatal("-import requires -db")
		}
		n, err := store.ImportDir(ctx, *importDir)
		if err != nil {
			log.Fatalf("import failed: %v", err)
		}
		log.Printf("imported %d files into %s", n, *dbPath)
	}

	src, rootURI := resolveSource(*tilesetPath, *httpBase, store)
	ts, err := loadTileset(ctx, src, rootURI)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("loaded tileset %s: %d tiles, asset version %s", rootURI, ts.Count(), ts.AssetVersion)

	recorder := monitor.NewPassRecorder(cfg.GetPassHistory())
	if *listen != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{Address: *listen, Recorder: recorder, Store: store})
		if err != nil {
			log.Fatalf("failed to create web server: %v", err)
		}
		go func() {
			if err := ws.Start(ctx); err != nil {
				log.Printf("web server: %v", err)
			}
		}()
	}

	eval := evaluator.New(ctx, ts, evaluator.Options{
		Config:   cfg,
		Source:   src,
		Recorder: recorder,
		Store:    store,
	})
	start := time.Now()
	res, runErr := eval.Run(ctx, frame)
	eval.Close()
	if runErr != nil {
		log.Printf("run ended early: %v", runErr)
	}
	log.Printf("run %s: %d passes in %v, %d tiles selected, ready=%v",
		eval.RunID(), res.Index+1, time.Since(start).Round(time.Millisecond), len(res.Selected), res.Ready)

	report := buildReport(eval.RunID(), res)
	for _, t := range report.Selected {
		fmt.Printf("%s\t%s\t%g\n", t.ID, t.URI, t.GeometricError)
	}

	if *jsonPath != "" {
		out := io.Writer(os.Stdout)
		if *jsonPath != "-" {
			f, err := os.Create(*jsonPath)
			if err != nil {
				log.Fatalf("failed to create %s: %v", *jsonPath, err)
			}
			defer f.Close()
			out = f
		}
		if err := writeReport(out, report); err != nil {
			log.Fatalf("failed to write JSON: %v", err)
		}
	}

	if *plotPath != "" {
		if err := monitor.SavePassPlot(recorder.Snapshots(), *plotPath); err != nil {
			log.Printf("failed to write plot: %v", err)
		} else {
			log.Printf("wrote pass plot to %s", *plotPath)
		}
	}

	if *listen != "" && ctx.Err() == nil {
		log.Printf("serving debug handlers on %s, interrupt to exit", *listen)
		<-ctx.Done()
	}
}
