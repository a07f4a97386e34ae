package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lodtiles/internal/monitoring"
	"github.com/banshee-data/lodtiles/internal/tilestore"
	"github.com/banshee-data/lodtiles/internal/version"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	Recorder *PassRecorder
	// Store is optional; when set its database is exposed through tailsql
	// and its content listing under /debug/content.
	Store *tilestore.Store
}

// WebServer serves pass history and debug handlers.
type WebServer struct {
	address  string
	recorder *PassRecorder
	store    *tilestore.Store
	mux      *http.ServeMux
	server   *http.Server
}

// NewWebServer builds the routes. It fails only if the SQL console cannot
// be created.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address:  config.Address,
		recorder: config.Recorder,
		store:    config.Store,
		mux:      http.NewServeMux(),
	}
	if ws.recorder == nil {
		ws.recorder = NewPassRecorder(1)
	}
	ws.setupRoutes()
	if err := ws.attachAdminRoutes(); err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws, nil
}

// Handler exposes the route table, mainly for tests.
func (ws *WebServer) Handler() http.Handler { return ws.mux }

func (ws *WebServer) setupRoutes() {
	ws.mux.HandleFunc("/health", ws.handleHealth)
	ws.mux.HandleFunc("/api/passes", ws.handlePasses)
	ws.mux.HandleFunc("/api/passes/latest", ws.handleLatestPass)
	ws.mux.HandleFunc("/api/selection", ws.handleSelection)
	ws.mux.HandleFunc("/api/passes/chart", ws.handlePassChart)
	ws.mux.HandleFunc("/api/passes/plot.png", ws.handlePassPlot)
}

// attachAdminRoutes mounts the tsweb debug index and, when a store is
// configured, a tailsql console over it.
func (ws *WebServer) attachAdminRoutes() error {
	debug := tsweb.Debugger(ws.mux)
	debug.Handle("passes", "Traversal pass history (JSON)", http.HandlerFunc(ws.handlePasses))
	debug.Handle("passes-chart", "Traversal pass chart", http.HandlerFunc(ws.handlePassChart))
	debug.Handle("selection", "Tiles selected by the latest pass", http.HandlerFunc(ws.handleSelection))

	if ws.store == nil {
		return nil
	}
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+ws.store.Path(), ws.store.DB(), &tailsql.DBOptions{
		Label: "Tile store",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("content", "Stored tile content (JSON)", http.HandlerFunc(ws.handleContent))
	return nil
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: encode response: %v", err)
	}
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"passes":  ws.recorder.Len(),
	})
}

// handlePasses returns the pass history. Query params:
//   - limit (optional) returns only the most recent N passes
func (ws *WebServer) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	passes := ws.recorder.Snapshots()
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			ws.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < len(passes) {
			passes = passes[len(passes)-n:]
		}
	}
	ws.writeJSON(w, passes)
}

func (ws *WebServer) handleLatestPass(w http.ResponseWriter, r *http.Request) {
	latest, ok := ws.recorder.Latest()
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, "no passes recorded")
		return
	}
	ws.writeJSON(w, latest)
}

func (ws *WebServer) handleSelection(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]interface{}{
		"selected": ws.recorder.Selection(),
	})
}

func (ws *WebServer) handleContent(w http.ResponseWriter, r *http.Request) {
	entries, err := ws.store.ListContent(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, entries)
}

// handlePassChart renders visited, selected and requested counts per pass
// as an echarts line chart.
func (ws *WebServer) handlePassChart(w http.ResponseWriter, r *http.Request) {
	passes := ws.recorder.Snapshots()
	if len(passes) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no passes recorded")
		return
	}

	x := make([]string, len(passes))
	visited := make([]opts.LineData, len(passes))
	selected := make([]opts.LineData, len(passes))
	requested := make([]opts.LineData, len(passes))
	for i, p := range passes {
		x[i] = strconv.Itoa(p.Index)
		visited[i] = opts.LineData{Value: p.Visited}
		selected[i] = opts.LineData{Value: p.Selected}
		requested[i] = opts.LineData{Value: p.Requested}
	}

	latest := passes[len(passes)-1]
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Traversal passes", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Traversal passes", Subtitle: fmt.Sprintf("run=%s passes=%d ready=%v", shortRunID(latest.RunID), len(passes), latest.Ready)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Pass", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Tiles"}),
	)
	line.SetXAxis(x).
		AddSeries("visited", visited).
		AddSeries("selected", selected).
		AddSeries("requested", requested)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handlePassPlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := WritePassPlot(ws.recorder.Snapshots(), &buf); err != nil {
		status := http.StatusInternalServerError
		if err == ErrNoPasses {
			status = http.StatusNotFound
		}
		ws.writeJSONError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
