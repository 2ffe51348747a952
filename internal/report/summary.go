// Package report summarises estimator runs and renders them as static PNG
// plots and interactive HTML charts.
package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/egomotion/internal/db"
	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/samples"
)

// Summary aggregates a run's estimates.
type Summary struct {
	Count             int     `json:"count"`
	DurationMs        float64 `json:"duration_ms"`
	GpsCorrected      int     `json:"gps_corrected"`
	CorrectedFraction float64 `json:"corrected_fraction"`
	SpikeCycles       int     `json:"spike_cycles"`
	SingularCycles    int     `json:"singular_cycles"`

	// Rejections counts rejected samples per channel.
	Rejections map[string]int `json:"rejections"`

	// VelocityRMSE is the root mean square of the GPS innovation magnitude
	// over corrected cycles: how far the prediction was from GPS.
	VelocityRMSE    float64 `json:"velocity_rmse"`
	InnovationMeanX float64 `json:"innovation_mean_x"`
	InnovationMeanY float64 `json:"innovation_mean_y"`
	InnovationStdX  float64 `json:"innovation_std_x"`
	InnovationStdY  float64 `json:"innovation_std_y"`

	MaxSpeed     float64 `json:"max_speed"`
	MeanSpeed    float64 `json:"mean_speed"`
	FinalHeading float64 `json:"final_heading"`
}

// Summarize computes a Summary over rows in sequence order.
func Summarize(rows []db.EstimateRow) Summary {
	s := Summary{Count: len(rows), Rejections: make(map[string]int)}
	if len(rows) == 0 {
		return s
	}

	speeds := make([]float64, len(rows))
	var innovX, innovY, innovSq []float64
	for i, r := range rows {
		speeds[i] = math.Hypot(r.VelocityX, r.VelocityY)
		if r.GpsCorrected {
			s.GpsCorrected++
			innovX = append(innovX, r.InnovationX)
			innovY = append(innovY, r.InnovationY)
			innovSq = append(innovSq, r.InnovationX*r.InnovationX+r.InnovationY*r.InnovationY)
		}
		if r.Singular {
			s.SingularCycles++
		}
		if r.Rejected != 0 {
			s.SpikeCycles++
			for _, ch := range egomotion.Channels {
				if r.Rejected.Has(ch) {
					s.Rejections[ch.String()]++
				}
			}
		}
	}

	s.DurationMs = rows[len(rows)-1].TimeMs - rows[0].TimeMs
	s.CorrectedFraction = float64(s.GpsCorrected) / float64(s.Count)
	s.MaxSpeed = floats.Max(speeds)
	s.MeanSpeed = stat.Mean(speeds, nil)
	s.FinalHeading = rows[len(rows)-1].Heading

	if len(innovSq) > 0 {
		s.VelocityRMSE = math.Sqrt(stat.Mean(innovSq, nil))
		s.InnovationMeanX = stat.Mean(innovX, nil)
		s.InnovationMeanY = stat.Mean(innovY, nil)
	}
	if len(innovSq) > 1 {
		s.InnovationStdX = stat.StdDev(innovX, nil)
		s.InnovationStdY = stat.StdDev(innovY, nil)
	}
	return s
}

// GpsPoint is a GPS velocity fix for plotting against the estimate.
type GpsPoint struct {
	TimeMs    float64
	VelocityX float64
	VelocityY float64
}

// GpsFromLog extracts each distinct fix from a drive log.
func GpsFromLog(rows []samples.Row) []GpsPoint {
	var (
		out  []GpsPoint
		last = math.NaN()
	)
	for _, r := range rows {
		if !r.HasGPS || r.GPS.Timestamp == last {
			continue
		}
		last = r.GPS.Timestamp
		out = append(out, GpsPoint{TimeMs: r.GPS.Timestamp, VelocityX: r.GPS.VelocityX, VelocityY: r.GPS.VelocityY})
	}
	return out
}
