package db

import (
	"fmt"

	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/pipeline"
)

// EstimateRow is one persisted cycle.
type EstimateRow struct {
	Seq          uint64               `json:"seq"`
	TimeMs       float64              `json:"t_ms"`
	VelocityX    float64              `json:"vx"`
	VelocityY    float64              `json:"vy"`
	AccelX       float64              `json:"ax"`
	AccelY       float64              `json:"ay"`
	Heading      float64              `json:"heading"`
	GpsFresh     bool                 `json:"gps_fresh"`
	GpsCorrected bool                 `json:"gps_corrected"`
	Singular     bool                 `json:"singular"`
	Rejected     egomotion.ChannelSet `json:"rejected_mask"`
	InnovationX  float64              `json:"innov_x"`
	InnovationY  float64              `json:"innov_y"`
}

// EstimateRowFrom flattens a pipeline estimate for storage.
func EstimateRowFrom(e pipeline.Estimate) EstimateRow {
	return EstimateRow{
		Seq:          e.Seq,
		TimeMs:       e.TimeMs,
		VelocityX:    e.Record.VelocityX,
		VelocityY:    e.Record.VelocityY,
		AccelX:       e.Record.AccelerationX,
		AccelY:       e.Record.AccelerationY,
		Heading:      e.Record.Heading,
		GpsFresh:     e.Report.GpsFresh,
		GpsCorrected: e.Report.GpsCorrected,
		Singular:     e.Report.Singular,
		Rejected:     e.Report.Rejected,
		InnovationX:  e.Report.Innovation[0],
		InnovationY:  e.Report.Innovation[1],
	}
}

// RecordEstimates inserts rows for runID in a single transaction.
func (db *DB) RecordEstimates(runID string, rows []EstimateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO estimates (
			run_id, seq, t_ms, vx, vy, ax, ay, heading,
			gps_fresh, gps_corrected, singular, rejected_mask, innov_x, innov_y
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			runID, int64(r.Seq), r.TimeMs, r.VelocityX, r.VelocityY, r.AccelX, r.AccelY, r.Heading,
			r.GpsFresh, r.GpsCorrected, r.Singular, int64(r.Rejected), r.InnovationX, r.InnovationY,
		)
		if err != nil {
			return fmt.Errorf("failed to insert estimate %d for run %s: %w", r.Seq, runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit estimates: %w", err)
	}
	return nil
}

// Estimates returns up to limit estimates for runID in sequence order. A
// non-positive limit returns them all.
func (db *DB) Estimates(runID string, limit int) ([]EstimateRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT
			seq, t_ms, vx, vy, ax, ay, heading,
			gps_fresh, gps_corrected, singular, rejected_mask, innov_x, innov_y
		FROM estimates WHERE run_id = ? ORDER BY seq LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimates for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []EstimateRow
	for rows.Next() {
		var (
			r        EstimateRow
			seq      int64
			rejected int64
		)
		if err := rows.Scan(
			&seq, &r.TimeMs, &r.VelocityX, &r.VelocityY, &r.AccelX, &r.AccelY, &r.Heading,
			&r.GpsFresh, &r.GpsCorrected, &r.Singular, &rejected, &r.InnovationX, &r.InnovationY,
		); err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		r.Seq = uint64(seq)
		r.Rejected = egomotion.ChannelSet(rejected)
		out = append(out, r)
	}
	return out, rows.Err()
}
