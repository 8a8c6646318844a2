// Package journal records every group and light box of a pipeline run in a
// SQLite database.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trafficlights/internal/annotate"
	"trafficlights/internal/geom"
)

var ErrNoRun = errors.New("no run in progress")

// Journal writes one run at a time.
type Journal struct {
	db    *DB
	runID string
}

// Open opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// RunID is the id of the current run, or "" before BeginRun
func (j *Journal) RunID() string {
	return j.runID
}

// BeginRun starts a new run and makes it current.
func (j *Journal) BeginRun(input, output string) error {
	id := uuid.NewString()

	_, err := j.db.Conn().Exec(`
		INSERT INTO runs (id, input, output, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, id, input, output, time.Now().UTC(), StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	j.runID = id
	return nil
}

// RecordFrame stores every group and light of one frame in a single transaction.
func (j *Journal) RecordFrame(frame int, result *annotate.FrameResult) error {
	if j.runID == "" {
		return ErrNoRun
	}
	if result == nil || len(result.Groups) == 0 {
		return nil
	}

	tx, err := j.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, frame, kind, label, raw_label, x1, y1, x2, y2, confidence, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, g := range result.Groups {
		b := g.Box
		if _, err := stmt.Exec(j.runID, frame, KindGroup, "", "", b.X1, b.Y1, b.X2, b.Y2, g.Confidence, g.Skipped); err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		for _, l := range g.Lights {
			b := l.Box
			if _, err := stmt.Exec(j.runID, frame, KindLight, l.Label, l.RawLabel, b.X1, b.Y1, b.X2, b.Y2, l.Confidence, false); err != nil {
				return fmt.Errorf("failed to insert light: %w", err)
			}
		}
	}

	return tx.Commit()
}

// FinishRun closes the current run with its final frame count and status.
func (j *Journal) FinishRun(frames int, status string) error {
	if j.runID == "" {
		return ErrNoRun
	}

	_, err := j.db.Conn().Exec(`
		UPDATE runs SET finished_at = ?, frames = ?, status = ? WHERE id = ?
	`, time.Now().UTC(), frames, status, j.runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (j *Journal) GetRun(id string) (*Run, error) {

	var run Run
	var finished sql.NullTime
	err := j.db.Conn().QueryRow(`
		SELECT id, input, output, started_at, finished_at, frames, status
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Input, &run.Output, &run.StartedAt, &finished, &run.Frames, &run.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// CountDetections counts journaled boxes of one kind for a run.
func (j *Journal) CountDetections(runID, kind string) (int, error) {

	var n int
	err := j.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections WHERE run_id = ? AND kind = ?`, runID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// LabelCounts returns how often each light label was seen in a run.
func (j *Journal) LabelCounts(runID string) (map[string]int, error) {

	rows, err := j.db.Conn().Query(`
		SELECT label, COUNT(*) FROM detections
		WHERE run_id = ? AND kind = ?
		GROUP BY label ORDER BY label
	`, runID, KindLight)
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// GetByFrame retrieves all detections of one frame, groups first.
func (j *Journal) GetByFrame(runID string, frame int) ([]Detection, error) {

	rows, err := j.db.Conn().Query(`
		SELECT id, run_id, frame, kind, label, raw_label, x1, y1, x2, y2, confidence, skipped
		FROM detections WHERE run_id = ? AND frame = ?
		ORDER BY kind, id
	`, runID, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var det Detection
		var b geom.Box
		if err := rows.Scan(&det.ID, &det.RunID, &det.Frame, &det.Kind, &det.Label, &det.RawLabel,
			&b.X1, &b.Y1, &b.X2, &b.Y2, &det.Confidence, &det.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		det.Box = b
		detections = append(detections, det)
	}
	return detections, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
