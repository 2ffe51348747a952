package egomotion

import "math"

// elapsedSeconds returns the prediction interval for currentTime, floored at
// MinDtMs and optionally capped at MaxDtMs.
func (e *Estimator) elapsedSeconds(st *EstimatorState, currentTime float64) float64 {
	dtMs := currentTime - st.LastUpdateTime
	if !(dtMs >= e.cfg.MinDtMs) {
		dtMs = e.cfg.MinDtMs
	}
	if e.cfg.MaxDtMs > 0 && dtMs > e.cfg.MaxDtMs {
		dtMs = e.cfg.MaxDtMs
	}
	return dtMs / 1000.0
}

// predict advances the state by dt seconds using the filtered IMU sample as
// the control input, and propagates the covariance.
//
//	A = [1 0 dt 0  0]
//	    [0 1 0  dt 0]
//	    [0 0 1  0  0]
//	    [0 0 0  1  0]
//	    [0 0 0  0  1]
//
// P = A P Aᵀ + Q, with Q diagonal.
func (e *Estimator) predict(st *EstimatorState, dt, ax, ay, yaw float64) {
	st.X[IdxVelX] += ax * dt
	st.X[IdxVelY] += ay * dt
	st.X[IdxAccelX] = ax
	st.X[IdxAccelY] = ay
	st.X[IdxHeading] += yaw * dt
	if e.cfg.WrapHeading {
		st.X[IdxHeading] = WrapDegrees(st.X[IdxHeading])
	}

	var A [StateSize * StateSize]float64
	for i := 0; i < StateSize; i++ {
		A[i*StateSize+i] = 1
	}
	A[IdxVelX*StateSize+IdxAccelX] = dt
	A[IdxVelY*StateSize+IdxAccelY] = dt

	// AP = A * P
	var AP [StateSize * StateSize]float64
	for i := 0; i < StateSize; i++ {
		for j := 0; j < StateSize; j++ {
			var s float64
			for k := 0; k < StateSize; k++ {
				s += A[i*StateSize+k] * st.P[k*StateSize+j]
			}
			AP[i*StateSize+j] = s
		}
	}

	// P = AP * Aᵀ
	for i := 0; i < StateSize; i++ {
		for j := 0; j < StateSize; j++ {
			var s float64
			for k := 0; k < StateSize; k++ {
				s += AP[i*StateSize+k] * A[j*StateSize+k]
			}
			st.P[i*StateSize+j] = s
		}
	}

	st.P[IdxVelX*StateSize+IdxVelX] += e.cfg.ProcessNoiseVelocity
	st.P[IdxVelY*StateSize+IdxVelY] += e.cfg.ProcessNoiseVelocity
	st.P[IdxAccelX*StateSize+IdxAccelX] += e.cfg.ProcessNoiseAccel
	st.P[IdxAccelY*StateSize+IdxAccelY] += e.cfg.ProcessNoiseAccel
	st.P[IdxHeading*StateSize+IdxHeading] += e.cfg.ProcessNoiseHeading
}

// WrapDegrees maps an angle in degrees into [-180, 180).
func WrapDegrees(deg float64) float64 {
	return deg - 360*math.Floor((deg+180)/360)
}
