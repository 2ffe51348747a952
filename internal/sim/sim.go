// Package sim generates deterministic synthetic drives for exercising the
// estimator without hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/samples"
)

// Scenario names a synthetic drive profile.
type Scenario string

const (
	// Cruise holds a constant 8 m/s along x.
	Cruise Scenario = "cruise"
	// Accelerate pulls away from rest at 2 m/s² for five seconds, then holds.
	Accelerate Scenario = "accelerate"
	// Turn circles at 8 m/s with a constant 10 deg/s yaw rate.
	Turn Scenario = "turn"
	// GpsDropout is Accelerate with no GPS fixes for the middle third of the drive.
	GpsDropout Scenario = "gps-dropout"
	// Spikes is Cruise with periodic IMU and GPS outliers injected.
	Spikes Scenario = "spikes"
)

// Scenarios lists every scenario in a stable order.
func Scenarios() []Scenario {
	return []Scenario{Cruise, Accelerate, Turn, GpsDropout, Spikes}
}

// ParseScenario resolves a scenario name.
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q (want one of %v)", name, Scenarios())
}

const (
	cruiseSpeed  = 8.0  // m/s
	accelRate    = 2.0  // m/s²
	accelFor     = 5.0  // s
	turnYawRate  = 10.0 // deg/s
	spikeEvery   = 50   // cycles
	gpsSpikeNth  = 7    // fixes
	imuSpikeSize = 20.0 // m/s²
	gpsSpikeSize = 30.0 // m/s
)

// Options controls generation.
type Options struct {
	Scenario Scenario
	Duration time.Duration
	// StartMs is the time of the first row.
	StartMs      float64
	CycleMs      float64
	GpsPeriodMs  float64
	GpsLatencyMs float64

	// Gaussian noise standard deviations.
	AccelNoise   float64 // m/s²
	YawRateNoise float64 // deg/s
	GpsNoise     float64 // m/s

	Seed uint64
}

// DefaultOptions returns ten seconds of s at 100 Hz with 10 Hz GPS.
func DefaultOptions(s Scenario) Options {
	return Options{
		Scenario:     s,
		Duration:     10 * time.Second,
		CycleMs:      10,
		GpsPeriodMs:  100,
		GpsLatencyMs: 20,
		AccelNoise:   0.05,
		YawRateNoise: 0.2,
		GpsNoise:     0.1,
		Seed:         1,
	}
}

// Truth is the noiseless vehicle state at a row's time.
type Truth struct {
	TimeMs    float64
	VelocityX float64
	VelocityY float64
	AccelX    float64
	AccelY    float64
	YawRate   float64
	Heading   float64
}

// Speed returns the magnitude of the true velocity.
func (t Truth) Speed() float64 { return math.Hypot(t.VelocityX, t.VelocityY) }

// profile returns the noiseless state at elapsed seconds.
func (s Scenario) profile(sec float64) Truth {
	switch s {
	case Accelerate, GpsDropout:
		if sec < accelFor {
			return Truth{VelocityX: accelRate * sec, AccelX: accelRate}
		}
		return Truth{VelocityX: accelRate * accelFor}
	case Turn:
		heading := turnYawRate * sec
		rad := heading * math.Pi / 180
		omega := turnYawRate * math.Pi / 180
		return Truth{
			VelocityX: cruiseSpeed * math.Cos(rad),
			VelocityY: cruiseSpeed * math.Sin(rad),
			AccelX:    -cruiseSpeed * omega * math.Sin(rad),
			AccelY:    cruiseSpeed * omega * math.Cos(rad),
			YawRate:   turnYawRate,
			Heading:   heading,
		}
	default:
		return Truth{VelocityX: cruiseSpeed}
	}
}

// Generate produces a drive log and the matching ground truth, one entry per
// cycle. GPS fixes are taken every GpsPeriodMs and become visible
// GpsLatencyMs later, carrying the time they were taken.
func Generate(opts Options) ([]samples.Row, []Truth, error) {
	if _, err := ParseScenario(string(opts.Scenario)); err != nil {
		return nil, nil, err
	}
	if !(opts.CycleMs > 0) || !(opts.GpsPeriodMs > 0) || opts.GpsLatencyMs < 0 {
		return nil, nil, fmt.Errorf("cycle and GPS period must be positive and latency non-negative")
	}
	if opts.Duration <= 0 {
		return nil, nil, fmt.Errorf("duration must be positive, got %v", opts.Duration)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	noise := func(sigma float64) float64 {
		if sigma == 0 {
			return 0
		}
		return rng.NormFloat64() * sigma
	}

	durationMs := float64(opts.Duration) / float64(time.Millisecond)
	cycles := int(durationMs / opts.CycleMs)
	dropFrom, dropTo := durationMs*0.4, durationMs*0.7

	rows := make([]samples.Row, 0, cycles)
	truth := make([]Truth, 0, cycles)

	var (
		latched  egomotion.GpsSample
		hasFix   bool
		nextFix  = 0.0
		fixCount = 0
		pending  []egomotion.GpsSample
	)
	for i := 0; i < cycles; i++ {
		elapsed := float64(i) * opts.CycleMs
		now := opts.StartMs + elapsed
		tr := opts.Scenario.profile(elapsed / 1000)
		tr.TimeMs = now

		// Take fixes due by this cycle.
		for nextFix <= elapsed {
			if opts.Scenario != GpsDropout || nextFix < dropFrom || nextFix >= dropTo {
				at := opts.Scenario.profile(nextFix / 1000)
				fix := egomotion.GpsSample{
					Timestamp: opts.StartMs + nextFix,
					VelocityX: at.VelocityX + noise(opts.GpsNoise),
					VelocityY: at.VelocityY + noise(opts.GpsNoise),
				}
				fixCount++
				if opts.Scenario == Spikes && fixCount%gpsSpikeNth == 0 {
					fix.VelocityX += gpsSpikeSize
				}
				pending = append(pending, fix)
			}
			nextFix += opts.GpsPeriodMs
		}
		// Deliver fixes whose latency has elapsed.
		for len(pending) > 0 && pending[0].Timestamp+opts.GpsLatencyMs <= now {
			latched, hasFix = pending[0], true
			pending = pending[1:]
		}

		imu := egomotion.ImuSample{
			AccelX:  tr.AccelX + noise(opts.AccelNoise),
			AccelY:  tr.AccelY + noise(opts.AccelNoise),
			YawRate: tr.YawRate + noise(opts.YawRateNoise),
		}
		if opts.Scenario == Spikes && i > 0 && i%spikeEvery == 0 {
			imu.AccelX += imuSpikeSize
		}

		rows = append(rows, samples.Row{TimeMs: now, HasGPS: hasFix, GPS: latched, IMU: imu})
		truth = append(truth, tr)
	}
	return rows, truth, nil
}
