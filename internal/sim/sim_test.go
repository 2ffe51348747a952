package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/egomotion/internal/egomotion"
)

func TestParseScenario(t *testing.T) {
	for _, s := range Scenarios() {
		got, err := ParseScenario(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseScenario("drift")
	assert.Error(t, err)
}

func TestGenerate_Deterministic(t *testing.T) {
	opts := DefaultOptions(Turn)
	a, _, err := Generate(opts)
	require.NoError(t, err)
	b, _, err := Generate(opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.Seed = 2
	c, _, err := Generate(opts)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerate_Shape(t *testing.T) {
	opts := DefaultOptions(Cruise)
	opts.StartMs = 5000
	rows, truth, err := Generate(opts)
	require.NoError(t, err)
	require.Len(t, rows, 1000)
	require.Len(t, truth, 1000)

	assert.Equal(t, 5000.0, rows[0].TimeMs)
	assert.Equal(t, 5010.0, rows[1].TimeMs)
	// The first fix is taken at t=0 and arrives after the latency.
	assert.False(t, rows[0].HasGPS)
	assert.False(t, rows[1].HasGPS)
	assert.True(t, rows[2].HasGPS)
	assert.Equal(t, 5000.0, rows[2].GPS.Timestamp)

	for i, r := range rows {
		if r.HasGPS {
			age := r.TimeMs - r.GPS.Timestamp
			assert.GreaterOrEqual(t, age, opts.GpsLatencyMs, "row %d", i)
			assert.Less(t, age, opts.GpsLatencyMs+opts.GpsPeriodMs, "row %d", i)
		}
	}
}

func TestGenerate_GpsDropout(t *testing.T) {
	rows, _, err := Generate(DefaultOptions(GpsDropout))
	require.NoError(t, err)

	maxAge := 0.0
	for _, r := range rows {
		if r.HasGPS {
			maxAge = math.Max(maxAge, r.TimeMs-r.GPS.Timestamp)
		}
	}
	// Roughly three seconds without a fresh fix.
	assert.Greater(t, maxAge, 2900.0)
}

func TestGenerate_Spikes(t *testing.T) {
	opts := DefaultOptions(Spikes)
	rows, truth, err := Generate(opts)
	require.NoError(t, err)

	imuSpikes := 0
	for i, r := range rows {
		if math.Abs(r.IMU.AccelX-truth[i].AccelX) > imuSpikeSize/2 {
			imuSpikes++
		}
	}
	assert.Equal(t, (len(rows)-1)/spikeEvery, imuSpikes)

	gpsSpike := false
	for _, r := range rows {
		if r.HasGPS && r.GPS.VelocityX > cruiseSpeed+gpsSpikeSize/2 {
			gpsSpike = true
			break
		}
	}
	assert.True(t, gpsSpike)
}

func TestGenerate_InvalidOptions(t *testing.T) {
	bad := []Options{
		{Scenario: "drift", Duration: time.Second, CycleMs: 10, GpsPeriodMs: 100},
		{Scenario: Cruise, Duration: 0, CycleMs: 10, GpsPeriodMs: 100},
		{Scenario: Cruise, Duration: time.Second, CycleMs: 0, GpsPeriodMs: 100},
		{Scenario: Cruise, Duration: time.Second, CycleMs: 10, GpsPeriodMs: 100, GpsLatencyMs: -1},
	}
	for _, opts := range bad {
		_, _, err := Generate(opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestTurnTruth(t *testing.T) {
	tr := Turn.profile(9)
	assert.InDelta(t, 90, tr.Heading, 1e-9)
	assert.InDelta(t, cruiseSpeed, tr.Speed(), 1e-9)
	assert.InDelta(t, 0, tr.VelocityX, 1e-9)
	assert.InDelta(t, cruiseSpeed, tr.VelocityY, 1e-9)
}

// run drives the estimator over a generated scenario and returns the last
// record alongside the final truth.
func run(t *testing.T, s Scenario) (egomotion.EgoMotionRecord, Truth) {
	t.Helper()
	rows, truth, err := Generate(DefaultOptions(s))
	require.NoError(t, err)

	var (
		st  egomotion.EstimatorState
		out egomotion.EgoMotionRecord
	)
	egomotion.Initialize(&st)
	for _, r := range rows {
		if !r.HasGPS {
			continue
		}
		gps, imu := r.GPS, r.IMU
		egomotion.Estimate(&egomotion.TimeSample{CurrentTime: r.TimeMs}, &gps, &imu, &st, &out)
	}
	return out, truth[len(truth)-1]
}

func TestScenarios_EstimatorTracksTruth(t *testing.T) {
	for _, s := range Scenarios() {
		t.Run(string(s), func(t *testing.T) {
			out, tr := run(t, s)
			assert.InDelta(t, tr.VelocityX, out.VelocityX, 0.5)
			assert.InDelta(t, tr.VelocityY, out.VelocityY, 0.5)
			assert.InDelta(t, tr.Heading, out.Heading, 2.0)
		})
	}
}
