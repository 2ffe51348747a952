package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one estimator session: a live drive or a replay.
type Run struct {
	ID             string          `json:"run_id"`
	Source         string          `json:"source"`
	StartedUnixMs  int64           `json:"started_unix_ms"`
	FinishedUnixMs *int64          `json:"finished_unix_ms,omitempty"`
	Config         json.RawMessage `json:"config"`
	Notes          string          `json:"notes,omitempty"`
}

// RunSummary is a run with aggregate counts over its estimates.
type RunSummary struct {
	Run
	EstimateCount  int      `json:"estimate_count"`
	CorrectedCount int      `json:"corrected_count"`
	SpikeCount     int      `json:"spike_count"`
	FirstTimeMs    *float64 `json:"first_t_ms,omitempty"`
	LastTimeMs     *float64 `json:"last_t_ms,omitempty"`
}

// CreateRun inserts a new run started now. configJSON may be empty.
func (db *DB) CreateRun(source, configJSON string) (*Run, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	if !json.Valid([]byte(configJSON)) {
		return nil, fmt.Errorf("run config is not valid JSON")
	}
	run := &Run{
		ID:            "run_" + uuid.NewString(),
		Source:        source,
		StartedUnixMs: time.Now().UnixMilli(),
		Config:        json.RawMessage(configJSON),
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, source, started_unix_ms, config_json) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedUnixMs, configJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run's finish time. Finishing twice keeps the first time.
func (db *DB) FinishRun(id string) error {
	res, err := db.Exec(
		`UPDATE runs SET finished_unix_ms = COALESCE(finished_unix_ms, ?) WHERE run_id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// SetRunNotes replaces the run's free-form notes.
func (db *DB) SetRunNotes(id, notes string) error {
	res, err := db.Exec(`UPDATE runs SET notes = ? WHERE run_id = ?`, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update notes for run %s: %w", id, err)
	}
	return requireAffected(res, id)
}

const runSummaryColumns = `
	r.run_id, r.source, r.started_unix_ms, r.finished_unix_ms, r.config_json, r.notes,
	s.estimate_count, s.corrected_count, s.spike_count, s.first_t_ms, s.last_t_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRunSummary(row scanner) (*RunSummary, error) {
	var (
		s        RunSummary
		finished sql.NullInt64
		first    sql.NullFloat64
		last     sql.NullFloat64
		config   string
	)
	err := row.Scan(
		&s.ID, &s.Source, &s.StartedUnixMs, &finished, &config, &s.Notes,
		&s.EstimateCount, &s.CorrectedCount, &s.SpikeCount, &first, &last,
	)
	if err != nil {
		return nil, err
	}
	s.Config = json.RawMessage(config)
	if finished.Valid {
		s.FinishedUnixMs = &finished.Int64
	}
	if first.Valid {
		s.FirstTimeMs = &first.Float64
	}
	if last.Valid {
		s.LastTimeMs = &last.Float64
	}
	return &s, nil
}

// GetRun returns the run with id and its summary counts.
func (db *DB) GetRun(id string) (*RunSummary, error) {
	row := db.QueryRow(`SELECT `+runSummaryColumns+`
		FROM runs r JOIN run_summaries s ON s.run_id = r.run_id
		WHERE r.run_id = ?`, id)
	s, err := scanRunSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return s, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (db *DB) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runSummaryColumns+`
		FROM runs r JOIN run_summaries s ON s.run_id = r.run_id
		ORDER BY r.started_unix_ms DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		s, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *s)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its estimates.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM estimates WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete estimates for run %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
