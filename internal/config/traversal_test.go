package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTraversalConfig(t *testing.T) {
	cfg := DefaultTraversalConfig()

	if cfg.MaximumMemoryUsageMB == nil || *cfg.MaximumMemoryUsageMB != 512 {
		t.Errorf("Expected MaximumMemoryUsageMB 512, got %v", cfg.MaximumMemoryUsageMB)
	}
	if cfg.UpdateInterval == nil || *cfg.UpdateInterval != "50ms" {
		t.Errorf("Expected UpdateInterval '50ms', got %v", cfg.UpdateInterval)
	}
	if cfg.GetMaximumMemoryUsage() != 512*1024*1024 {
		t.Errorf("GetMaximumMemoryUsage() = %d, want %d", cfg.GetMaximumMemoryUsage(), 512*1024*1024)
	}
	if cfg.GetDefaultExpire() != 0 {
		t.Errorf("GetDefaultExpire() = %v, want 0", cfg.GetDefaultExpire())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	file := MustLoadDefaultConfig()
	builtin := EmptyTraversalConfig()

	if file.GetMinimumGeometricError() != builtin.GetMinimumGeometricError() {
		t.Errorf("minimum_geometric_error: file %g, builtin %g", file.GetMinimumGeometricError(), builtin.GetMinimumGeometricError())
	}
	if file.GetMaximumMemoryUsageMB() != builtin.GetMaximumMemoryUsageMB() {
		t.Errorf("maximum_memory_usage_mb: file %d, builtin %d", file.GetMaximumMemoryUsageMB(), builtin.GetMaximumMemoryUsageMB())
	}
	if file.GetMaximumSimultaneousRequests() != builtin.GetMaximumSimultaneousRequests() {
		t.Errorf("maximum_simultaneous_requests: file %d, builtin %d", file.GetMaximumSimultaneousRequests(), builtin.GetMaximumSimultaneousRequests())
	}
	if file.GetLoadWorkers() != builtin.GetLoadWorkers() {
		t.Errorf("load_workers: file %d, builtin %d", file.GetLoadWorkers(), builtin.GetLoadWorkers())
	}
	if file.GetUpdateInterval() != builtin.GetUpdateInterval() {
		t.Errorf("update_interval: file %v, builtin %v", file.GetUpdateInterval(), builtin.GetUpdateInterval())
	}
	if file.GetMaxPasses() != builtin.GetMaxPasses() {
		t.Errorf("max_passes: file %d, builtin %d", file.GetMaxPasses(), builtin.GetMaxPasses())
	}
	if file.GetPassHistory() != builtin.GetPassHistory() {
		t.Errorf("pass_history: file %d, builtin %d", file.GetPassHistory(), builtin.GetPassHistory())
	}
	if file.GetDefaultExpire() != builtin.GetDefaultExpire() {
		t.Errorf("default_expire: file %v, builtin %v", file.GetDefaultExpire(), builtin.GetDefaultExpire())
	}
}

func TestLoadTraversalConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "traversal.json")

	testJSON := `{
  "minimum_geometric_error": 2.5,
  "maximum_memory_usage_mb": 64,
  "update_interval": "10ms",
  "default_expire": "30s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTraversalConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetMinimumGeometricError(); got != 2.5 {
		t.Errorf("GetMinimumGeometricError() = %g, want 2.5", got)
	}
	if got := cfg.GetMaximumMemoryUsage(); got != 64*1024*1024 {
		t.Errorf("GetMaximumMemoryUsage() = %d, want %d", got, 64*1024*1024)
	}
	if got := cfg.GetUpdateInterval(); got != 10*time.Millisecond {
		t.Errorf("GetUpdateInterval() = %v, want 10ms", got)
	}
	if got := cfg.GetDefaultExpire(); got != 30*time.Second {
		t.Errorf("GetDefaultExpire() = %v, want 30s", got)
	}

	// Omitted fields fall back to defaults.
	if got := cfg.GetLoadWorkers(); got != 8 {
		t.Errorf("GetLoadWorkers() = %d, want 8", got)
	}
	if got := cfg.GetMaxPasses(); got != 200 {
		t.Errorf("GetMaxPasses() = %d, want 200", got)
	}
}

func TestLoadTraversalConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"negative threshold", write("neg.json", `{"minimum_geometric_error": -1}`), "minimum_geometric_error"},
		{"zero requests", write("req.json", `{"maximum_simultaneous_requests": 0}`), "maximum_simultaneous_requests"},
		{"zero workers", write("workers.json", `{"load_workers": 0}`), "load_workers"},
		{"bad interval", write("interval.json", `{"update_interval": "soon"}`), "update_interval"},
		{"negative expire", write("expire.json", `{"default_expire": "-5s"}`), "default_expire"},
		{"zero history", write("history.json", `{"pass_history": 0}`), "pass_history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTraversalConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTraversalConfig_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(p, make([]byte, 1024*1024+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTraversalConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestGetDurations_InvalidFallsBack(t *testing.T) {
	cfg := &TraversalConfig{
		UpdateInterval: ptrString("never"),
		DefaultExpire:  ptrString("bogus"),
	}
	if got := cfg.GetUpdateInterval(); got != 50*time.Millisecond {
		t.Errorf("GetUpdateInterval() = %v, want 50ms", got)
	}
	if got := cfg.GetDefaultExpire(); got != 0 {
		t.Errorf("GetDefaultExpire() = %v, want 0", got)
	}
}
