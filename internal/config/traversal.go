package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical traversal defaults file.
const DefaultConfigPath = "config/traversal.defaults.json"

// TraversalConfig holds the tunables of the selection loop. Fields are
// pointers so a partial file only overrides what it names; the Get*
// methods supply defaults for the rest.
type TraversalConfig struct {
	// Traversal
	MinimumGeometricError *float64 `json:"minimum_geometric_error,omitempty"`

	// Cache and loading
	MaximumMemoryUsageMB        *int    `json:"maximum_memory_usage_mb,omitempty"`
	MaximumSimultaneousRequests *int    `json:"maximum_simultaneous_requests,omitempty"`
	LoadWorkers                 *int    `json:"load_workers,omitempty"`
	DefaultExpire               *string `json:"default_expire,omitempty"` // duration string, "" means never

	// Update loop
	UpdateInterval *string `json:"update_interval,omitempty"` // duration string like "50ms"
	MaxPasses      *int    `json:"max_passes,omitempty"`
	PassHistory    *int    `json:"pass_history,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyTraversalConfig returns a TraversalConfig with every field unset.
func EmptyTraversalConfig() *TraversalConfig {
	return &TraversalConfig{}
}

// DefaultTraversalConfig returns a config with every field populated with
// its built-in default.
func DefaultTraversalConfig() *TraversalConfig {
	c := EmptyTraversalConfig()
	return &TraversalConfig{
		MinimumGeometricError:       ptrFloat64(c.GetMinimumGeometricError()),
		MaximumMemoryUsageMB:        ptrInt(c.GetMaximumMemoryUsageMB()),
		MaximumSimultaneousRequests: ptrInt(c.GetMaximumSimultaneousRequests()),
		LoadWorkers:                 ptrInt(c.GetLoadWorkers()),
		DefaultExpire:               ptrString(""),
		UpdateInterval:              ptrString(c.GetUpdateInterval().String()),
		MaxPasses:                   ptrInt(c.GetMaxPasses()),
		PassHistory:                 ptrInt(c.GetPassHistory()),
	}
}

// LoadTraversalConfig loads a TraversalConfig from a JSON file. The file
// must have a .json extension and be at most 1MB. Fields omitted from the
// file keep their defaults.
func LoadTraversalConfig(path string) (*TraversalConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTraversalConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *TraversalConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTraversalConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *TraversalConfig) Validate() error {
	if c.MinimumGeometricError != nil && *c.MinimumGeometricError < 0 {
		return fmt.Errorf("minimum_geometric_error must be non-negative, got %g", *c.MinimumGeometricError)
	}
	if c.MaximumMemoryUsageMB != nil && *c.MaximumMemoryUsageMB < 0 {
		return fmt.Errorf("maximum_memory_usage_mb must be non-negative, got %d", *c.MaximumMemoryUsageMB)
	}
	if c.MaximumSimultaneousRequests != nil && *c.MaximumSimultaneousRequests < 1 {
		return fmt.Errorf("maximum_simultaneous_requests must be at least 1, got %d", *c.MaximumSimultaneousRequests)
	}
	if c.LoadWorkers != nil && *c.LoadWorkers < 1 {
		return fmt.Errorf("load_workers must be at least 1, got %d", *c.LoadWorkers)
	}
	if c.MaxPasses != nil && *c.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1, got %d", *c.MaxPasses)
	}
	if c.PassHistory != nil && *c.PassHistory < 1 {
		return fmt.Errorf("pass_history must be at least 1, got %d", *c.PassHistory)
	}
	if c.UpdateInterval != nil && *c.UpdateInterval != "" {
		d, err := time.ParseDuration(*c.UpdateInterval)
		if err != nil {
			return fmt.Errorf("invalid update_interval '%s': %w", *c.UpdateInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("update_interval must be non-negative, got %s", d)
		}
	}
	if c.DefaultExpire != nil && *c.DefaultExpire != "" {
		d, err := time.ParseDuration(*c.DefaultExpire)
		if err != nil {
			return fmt.Errorf("invalid default_expire '%s': %w", *c.DefaultExpire, err)
		}
		if d < 0 {
			return fmt.Errorf("default_expire must be non-negative, got %s", d)
		}
	}
	return nil
}

// GetMinimumGeometricError returns the traversal threshold or the default.
func (c *TraversalConfig) GetMinimumGeometricError() float64 {
	if c.MinimumGeometricError == nil {
		return 0
	}
	return *c.MinimumGeometricError
}

// GetMaximumMemoryUsageMB returns the cache budget in megabytes or the default.
func (c *TraversalConfig) GetMaximumMemoryUsageMB() int {
	if c.MaximumMemoryUsageMB == nil {
		return 512
	}
	return *c.MaximumMemoryUsageMB
}

// GetMaximumMemoryUsage returns the cache budget in bytes.
func (c *TraversalConfig) GetMaximumMemoryUsage() int64 {
	return int64(c.GetMaximumMemoryUsageMB()) * 1024 * 1024
}

// GetMaximumSimultaneousRequests returns the in-flight request cap or the default.
func (c *TraversalConfig) GetMaximumSimultaneousRequests() int {
	if c.MaximumSimultaneousRequests == nil {
		return 50
	}
	return *c.MaximumSimultaneousRequests
}

// GetLoadWorkers returns the loader worker count or the default.
func (c *TraversalConfig) GetLoadWorkers() int {
	if c.LoadWorkers == nil {
		return 8
	}
	return *c.LoadWorkers
}

// GetUpdateInterval parses and returns the UpdateInterval as a time.Duration.
func (c *TraversalConfig) GetUpdateInterval() time.Duration {
	if c.UpdateInterval == nil || *c.UpdateInterval == "" {
		return 50 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.UpdateInterval)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// GetDefaultExpire returns the freshness applied to tiles without an
// expire.duration. Zero means content never expires.
func (c *TraversalConfig) GetDefaultExpire() time.Duration {
	if c.DefaultExpire == nil || *c.DefaultExpire == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.DefaultExpire)
	if err != nil {
		return 0
	}
	return d
}

// GetMaxPasses returns the pass limit for a run or the default.
func (c *TraversalConfig) GetMaxPasses() int {
	if c.MaxPasses == nil {
		return 200
	}
	return *c.MaxPasses
}

// GetPassHistory returns how many pass snapshots the monitor keeps.
func (c *TraversalConfig) GetPassHistory() int {
	if c.PassHistory == nil {
		return 256
	}
	return *c.PassHistory
}
