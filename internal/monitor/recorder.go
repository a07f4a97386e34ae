// Package monitor keeps a bounded history of traversal passes and serves
// it over HTTP as JSON, an echarts page and a PNG plot, alongside the
// standard debug handlers.
package monitor

import (
	"sync"
	"time"
)

// PassSnapshot summarises one selection pass.
type PassSnapshot struct {
	RunID        string        `json:"run_id"`
	Index        int           `json:"index"`
	FrameNumber  uint64        `json:"frame_number"`
	Visited      int           `json:"visited"`
	Selected     int           `json:"selected"`
	Requested    int           `json:"requested"`
	Issued       int           `json:"issued"`
	Pending      int           `json:"pending"`
	Ready        bool          `json:"ready"`
	CachedTiles  int           `json:"cached_tiles"`
	ContentBytes int64         `json:"content_bytes"`
	Loaded       int           `json:"loaded"`
	Failed       int           `json:"failed"`
	Evicted      int           `json:"evicted"`
	Duration     time.Duration `json:"duration_ns"`
	Timestamp    time.Time     `json:"timestamp"`
}

// PassRecorder is a fixed-capacity history of pass snapshots. It is safe
// for concurrent use: the update goroutine records while HTTP handlers
// read.
type PassRecorder struct {
	mu        sync.Mutex
	capacity  int
	passes    []PassSnapshot
	selection []string
}

// NewPassRecorder keeps at most capacity snapshots.
func NewPassRecorder(capacity int) *PassRecorder {
	if capacity < 1 {
		capacity = 1
	}
	return &PassRecorder{capacity: capacity, passes: make([]PassSnapshot, 0, capacity)}
}

// Record appends s, dropping the oldest snapshot when full.
func (r *PassRecorder) Record(s PassSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.passes) == r.capacity {
		copy(r.passes, r.passes[1:])
		r.passes = r.passes[:len(r.passes)-1]
	}
	r.passes = append(r.passes, s)
}

// RecordSelection stores the tile IDs selected by the latest pass.
func (r *PassRecorder) RecordSelection(ids []string) {
	cp := make([]string, len(ids))
	copy(cp, ids)
	r.mu.Lock()
	r.selection = cp
	r.mu.Unlock()
}

// Selection returns the IDs stored by the last RecordSelection.
func (r *PassRecorder) Selection() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.selection))
	copy(out, r.selection)
	return out
}

// Snapshots returns a copy of the history, oldest first.
func (r *PassRecorder) Snapshots() []PassSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PassSnapshot, len(r.passes))
	copy(out, r.passes)
	return out
}

// Latest returns the most recent snapshot.
func (r *PassRecorder) Latest() (PassSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.passes) == 0 {
		return PassSnapshot{}, false
	}
	return r.passes[len(r.passes)-1], true
}

// Len is the number of snapshots held.
func (r *PassRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.passes)
}

// Reset drops all history.
func (r *PassRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = r.passes[:0]
	r.selection = nil
}
