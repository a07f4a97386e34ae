package tilestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PassRecord is the persisted summary of one traversal pass.
type PassRecord struct {
	PassID       string `json:"pass_id"`
	RunID        string `json:"run_id"`
	PassIndex    int    `json:"pass_index"`
	Visited      int    `json:"visited"`
	Selected     int    `json:"selected"`
	Requested    int    `json:"requested"`
	Pending      int    `json:"pending"`
	Ready        bool   `json:"ready"`
	ContentBytes int64  `json:"content_bytes"`
	CreatedAt    int64  `json:"created_at"`
}

// NewRunID returns a fresh identifier for grouping passes.
func NewRunID() string { return uuid.New().String() }

// RecordPass persists rec. If PassID is empty, a UUID is generated.
func (s *Store) RecordPass(rec *PassRecord) error {
	if rec.PassID == "" {
		rec.PassID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}
	ready := 0
	if rec.Ready {
		ready = 1
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO traversal_passes (
				pass_id, run_id, pass_index, visited, selected, requested,
				pending, ready, content_bytes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.PassID, rec.RunID, rec.PassIndex, rec.Visited, rec.Selected, rec.Requested,
			rec.Pending, ready, rec.ContentBytes, rec.CreatedAt,
		)
		return err
	})
}

// ListPasses returns the passes of a run in pass order.
func (s *Store) ListPasses(runID string) ([]*PassRecord, error) {
	rows, err := s.db.Query(`
		SELECT pass_id, run_id, pass_index, visited, selected, requested,
			pending, ready, content_bytes, created_at
		FROM traversal_passes
		WHERE run_id = ?
		ORDER BY pass_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var passes []*PassRecord
	for rows.Next() {
		p := &PassRecord{}
		var ready int
		if err := rows.Scan(&p.PassID, &p.RunID, &p.PassIndex, &p.Visited, &p.Selected,
			&p.Requested, &p.Pending, &ready, &p.ContentBytes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		p.Ready = ready != 0
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// ListRuns returns run IDs, most recent first.
func (s *Store) ListRuns() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT run_id FROM traversal_passes
		GROUP BY run_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
