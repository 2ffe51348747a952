// Package pipeline runs the estimator against live or recorded samples and
// fans the resulting estimates out to sinks.
package pipeline

import (
	"math"

	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/samples"
)

// Estimate is one applied control cycle as seen by the host.
type Estimate struct {
	RunID  string                    `json:"run_id,omitempty"`
	Seq    uint64                    `json:"seq"`
	TimeMs float64                   `json:"t_ms"`
	Record egomotion.EgoMotionRecord `json:"record"`
	Report egomotion.CycleReport     `json:"report"`
}

// Speed returns the magnitude of the estimated velocity.
func (e Estimate) Speed() float64 {
	return math.Hypot(e.Record.VelocityX, e.Record.VelocityY)
}

// Sink receives estimates from the loop goroutine. Publish must not block.
type Sink interface {
	Publish(Estimate)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Estimate)

// Publish calls f(e).
func (f SinkFunc) Publish(e Estimate) { f(e) }

// Replay runs est over recorded rows in order, using each row's t_ms as the
// cycle time. Rows before the first GPS fix are no-ops, as are rows the
// estimator declines to apply. The first applied row predicts from the row
// before it, or over MinDtMs when it is the first row. It returns the
// applied estimates and the final state.
func Replay(rows []samples.Row, est *egomotion.Estimator, runID string, sinks ...Sink) ([]Estimate, egomotion.EstimatorState) {
	var st egomotion.EstimatorState
	est.Initialize(&st)

	out := make([]Estimate, 0, len(rows))
	var seq uint64
	for i, row := range rows {
		if seq == 0 {
			gap := est.Config().MinDtMs
			if i > 0 {
				gap = row.TimeMs - rows[i-1].TimeMs
			}
			prime(&st, row.TimeMs, gap)
		}
		e, ok := step(est, &st, row, runID, seq+1)
		if !ok {
			continue
		}
		seq++
		for _, s := range sinks {
			s.Publish(e)
		}
		out = append(out, e)
	}
	return out, st
}

// prime gives a freshly initialised state a time base so the first cycle
// at nowMs predicts over gapMs instead of over the time since the epoch.
func prime(st *egomotion.EstimatorState, nowMs, gapMs float64) {
	st.LastUpdateTime = nowMs - gapMs
}

// step runs a single cycle for row. ok is false when nothing was applied.
func step(est *egomotion.Estimator, st *egomotion.EstimatorState, row samples.Row, runID string, seq uint64) (Estimate, bool) {
	var gps *egomotion.GpsSample
	if row.HasGPS {
		g := row.GPS
		gps = &g
	}
	imu := row.IMU
	var rec egomotion.EgoMotionRecord
	rep := est.Step(&egomotion.TimeSample{CurrentTime: row.TimeMs}, gps, &imu, st, &rec)
	if !rep.Applied {
		return Estimate{}, false
	}
	return Estimate{RunID: runID, Seq: seq, TimeMs: row.TimeMs, Record: rec, Report: rep}, true
}
