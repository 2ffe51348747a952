// Package egomotion estimates the ego vehicle's velocity, acceleration and
// heading by fusing IMU and GPS velocity samples with a 5-state linear
// Kalman filter.
//
// The estimator is synchronous and allocation free. All memory between
// cycles lives in a caller-owned EstimatorState; calls on the same state
// must be serialised by the caller.
package egomotion

import "math"

// Estimator runs the per-cycle pipeline with a fixed Config.
// The zero value is not useful; use New.
type Estimator struct {
	cfg Config
}

// New returns an Estimator using cfg.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Config returns the estimator's configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Initialize resets st to a zero state with diagonal covariance
// InitialCovariance, zeroed channel caches and LastUpdateTime 0.
func (e *Estimator) Initialize(st *EstimatorState) {
	if st == nil {
		return
	}
	*st = EstimatorState{}
	for i := 0; i < StateSize; i++ {
		st.P[i*StateSize+i] = e.cfg.InitialCovariance
	}
}

// Step runs one control cycle:
// spike filter, predict, GPS freshness gate, correct, and output mapping.
//
// A nil argument or a non-finite CurrentTime makes the call a no-op: neither
// st nor out is modified and the returned report has Applied == false.
func (e *Estimator) Step(ts *TimeSample, gps *GpsSample, imu *ImuSample, st *EstimatorState, out *EgoMotionRecord) CycleReport {
	var rep CycleReport
	if ts == nil || gps == nil || imu == nil || st == nil || out == nil {
		return rep
	}
	if math.IsNaN(ts.CurrentTime) || math.IsInf(ts.CurrentTime, 0) {
		return rep
	}

	prior := *st

	ax := e.filter(st, ChannelAccelX, imu.AccelX, &rep)
	ay := e.filter(st, ChannelAccelY, imu.AccelY, &rep)
	yaw := e.filter(st, ChannelYawRate, imu.YawRate, &rep)
	gvx := e.filter(st, ChannelGpsVelX, gps.VelocityX, &rep)
	gvy := e.filter(st, ChannelGpsVelY, gps.VelocityY, &rep)

	rep.DtSeconds = e.elapsedSeconds(st, ts.CurrentTime)
	st.LastUpdateTime = ts.CurrentTime
	e.predict(st, rep.DtSeconds, ax, ay, yaw)

	rep.GpsFresh = GpsFresh(ts.CurrentTime, gps.Timestamp, e.cfg.GpsMaxAgeMs)
	gpsRejected := rep.Rejected.Has(ChannelGpsVelX) || rep.Rejected.Has(ChannelGpsVelY)
	if rep.GpsFresh && !gpsRejected {
		var ok bool
		rep.Innovation, ok = e.correct(st, gvx, gvy)
		rep.GpsCorrected = ok
		rep.Singular = !ok
	}

	// A state that overflowed during prediction is discarded along with the
	// cache updates from this cycle.
	if !allFinite(st.X[:]) || !allFinite(st.P[:]) {
		*st = prior
		return CycleReport{}
	}

	*out = EgoMotionRecord{
		VelocityX:     st.X[IdxVelX],
		VelocityY:     st.X[IdxVelY],
		AccelerationX: st.X[IdxAccelX],
		AccelerationY: st.X[IdxAccelY],
		Heading:       st.X[IdxHeading],
	}
	rep.Applied = true
	return rep
}

// Initialize resets st using DefaultConfig.
func Initialize(st *EstimatorState) {
	e := Estimator{cfg: DefaultConfig()}
	e.Initialize(st)
}

// Estimate runs one control cycle using DefaultConfig. See Estimator.Step.
func Estimate(ts *TimeSample, gps *GpsSample, imu *ImuSample, st *EstimatorState, out *EgoMotionRecord) {
	e := Estimator{cfg: DefaultConfig()}
	e.Step(ts, gps, imu, st, out)
}
