package egomotion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpikeFilter(t *testing.T) {
	tests := []struct {
		name      string
		last      float64
		sample    float64
		threshold float64
		wantValue float64
		wantOK    bool
		wantCache float64
	}{
		{"within threshold", 1.0, 2.5, 3.0, 2.5, true, 2.5},
		{"exactly at threshold", 1.0, 4.0, 3.0, 4.0, true, 4.0},
		{"just over threshold", 1.0, 4.01, 3.0, 1.0, false, 1.0},
		{"negative jump over threshold", 1.0, -2.5, 3.0, 1.0, false, 1.0},
		{"yaw at threshold", -10, 20, 30, 20, true, 20},
		{"yaw over threshold", -10, 20.5, 30, -10, false, -10},
		{"gps at threshold", 20, 10, 10, 10, true, 10},
		{"gps over threshold", 20, 9.9, 10, 20, false, 20},
		{"NaN sample", 1.0, math.NaN(), 3.0, 1.0, false, 1.0},
		{"infinite sample", 1.0, math.Inf(1), 3.0, 1.0, false, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := tt.last
			got, ok := SpikeFilter(tt.sample, tt.threshold, &cache)
			assert.Equal(t, tt.wantValue, got)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCache, cache)
		})
	}
}

func TestSpikeFilter_RejectedSampleDoesNotMoveCache(t *testing.T) {
	cache := 0.0
	// A sequence that would walk past the threshold if rejected samples
	// updated the cache.
	for _, s := range []float64{3.5, 3.5, 3.5} {
		v, ok := SpikeFilter(s, 3.0, &cache)
		assert.False(t, ok)
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, 0.0, cache)

	v, ok := SpikeFilter(2.0, 3.0, &cache)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	v, ok = SpikeFilter(3.5, 3.0, &cache)
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)
}

func TestChannelSet(t *testing.T) {
	var s ChannelSet
	assert.Equal(t, "none", s.String())
	assert.False(t, s.Has(ChannelAccelX))

	s = s.With(ChannelAccelX).With(ChannelGpsVelY)
	assert.True(t, s.Has(ChannelAccelX))
	assert.True(t, s.Has(ChannelGpsVelY))
	assert.False(t, s.Has(ChannelYawRate))
	assert.Equal(t, "accel_x|gps_vel_y", s.String())
}

func TestChannelString(t *testing.T) {
	names := map[Channel]string{
		ChannelAccelX:  "accel_x",
		ChannelAccelY:  "accel_y",
		ChannelYawRate: "yaw_rate",
		ChannelGpsVelX: "gps_vel_x",
		ChannelGpsVelY: "gps_vel_y",
		Channel(0):     "unknown",
	}
	for c, want := range names {
		assert.Equal(t, want, c.String())
	}
}
