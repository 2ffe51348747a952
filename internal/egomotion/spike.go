package egomotion

import (
	"math"
	"strings"
)

// Channel identifies one filtered input signal.
type Channel uint8

const (
	ChannelAccelX Channel = 1 << iota
	ChannelAccelY
	ChannelYawRate
	ChannelGpsVelX
	ChannelGpsVelY
)

// Channels lists every channel in filter order.
var Channels = [...]Channel{ChannelAccelX, ChannelAccelY, ChannelYawRate, ChannelGpsVelX, ChannelGpsVelY}

func (c Channel) String() string {
	switch c {
	case ChannelAccelX:
		return "accel_x"
	case ChannelAccelY:
		return "accel_y"
	case ChannelYawRate:
		return "yaw_rate"
	case ChannelGpsVelX:
		return "gps_vel_x"
	case ChannelGpsVelY:
		return "gps_vel_y"
	}
	return "unknown"
}

// ChannelSet is a bitmask of channels.
type ChannelSet uint8

// Has reports whether c is in the set.
func (s ChannelSet) Has(c Channel) bool { return s&ChannelSet(c) != 0 }

// With returns the set with c added.
func (s ChannelSet) With(c Channel) ChannelSet { return s | ChannelSet(c) }

// String renders the set as a "|"-separated list of channel names.
func (s ChannelSet) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	for _, c := range Channels {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return strings.Join(names, "|")
}

// SpikeFilter applies single-sample spike rejection to one channel.
//
// A sample whose absolute deviation from *lastAccepted exceeds threshold is
// rejected: the cached value is returned and the cache is left untouched.
// Otherwise the cache is updated and the sample returned. A deviation equal
// to the threshold is accepted. Non-finite samples are always rejected.
func SpikeFilter(sample, threshold float64, lastAccepted *float64) (float64, bool) {
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return *lastAccepted, false
	}
	if math.Abs(sample-*lastAccepted) > threshold {
		return *lastAccepted, false
	}
	*lastAccepted = sample
	return sample, true
}

// cache returns the state field backing a channel's last accepted value.
func (st *EstimatorState) cache(c Channel) *float64 {
	switch c {
	case ChannelAccelX:
		return &st.LastAccelX
	case ChannelAccelY:
		return &st.LastAccelY
	case ChannelYawRate:
		return &st.LastYawRate
	case ChannelGpsVelX:
		return &st.LastGpsVelX
	default:
		return &st.LastGpsVelY
	}
}

func (c Config) threshold(ch Channel) float64 {
	switch ch {
	case ChannelAccelX, ChannelAccelY:
		return c.AccelSpikeThreshold
	case ChannelYawRate:
		return c.YawRateSpikeThreshold
	default:
		return c.GpsVelocitySpikeThreshold
	}
}

// filter runs the spike filter for ch and records rejections in rep.
func (e *Estimator) filter(st *EstimatorState, ch Channel, sample float64, rep *CycleReport) float64 {
	last := st.cache(ch)
	if e.cfg.SeedSpikeFilter && !st.Seeded.Has(ch) && !math.IsNaN(sample) && !math.IsInf(sample, 0) {
		st.Seeded = st.Seeded.With(ch)
		*last = sample
		return sample
	}
	v, ok := SpikeFilter(sample, e.cfg.threshold(ch), last)
	if !ok {
		rep.Rejected = rep.Rejected.With(ch)
	}
	return v
}
