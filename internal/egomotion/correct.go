package egomotion

import "math"

// MinDeterminantThreshold is the smallest |det| of the scale-normalised
// innovation covariance for which inversion is attempted.
const MinDeterminantThreshold = 1e-12

// invert2x2 inverts [[a b] [c d]] in closed form.
//
// The entries are first divided by their largest magnitude so the
// determinant is computed on values in [-1, 1] and cannot under- or
// overflow for badly scaled inputs. ok is false when the matrix is
// singular, near-singular, or not finite.
func invert2x2(a, b, c, d float64) (inv [4]float64, ok bool) {
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), math.Max(math.Abs(c), math.Abs(d)))
	if !(scale > 0) || math.IsInf(scale, 0) {
		return inv, false
	}
	a, b, c, d = a/scale, b/scale, c/scale, d/scale

	det := a*d - b*c
	if math.IsNaN(det) || math.Abs(det) < MinDeterminantThreshold {
		return inv, false
	}

	f := 1 / (det * scale)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return inv, false
	}
	inv = [4]float64{d * f, -b * f, -c * f, a * f}
	for _, v := range inv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [4]float64{}, false
		}
	}
	return inv, true
}

// correct fuses a GPS velocity observation z = [vx, vy] into the state.
//
// H selects the two velocity states:
//
//	H = [1 0 0 0 0]
//	    [0 1 0 0 0]
//
// S = H P Hᵀ + R, K = P Hᵀ S⁻¹ (5x2), X += K y, P = (I - K H) P.
// The state is left untouched when S cannot be inverted or the update
// would produce a non-finite result; ok reports whether it was applied.
func (e *Estimator) correct(st *EstimatorState, zx, zy float64) (innovation [2]float64, ok bool) {
	const n = StateSize
	r := e.cfg.MeasurementNoiseVelocity

	innovation[0] = zx - st.X[IdxVelX]
	innovation[1] = zy - st.X[IdxVelY]

	S00 := st.P[0*n+0] + r
	S01 := st.P[0*n+1]
	S10 := st.P[1*n+0]
	S11 := st.P[1*n+1] + r

	Sinv, ok := invert2x2(S00, S01, S10, S11)
	if !ok {
		return innovation, false
	}

	// P Hᵀ is the first two columns of P.
	var K [n * 2]float64
	for i := 0; i < n; i++ {
		ph0 := st.P[i*n+0]
		ph1 := st.P[i*n+1]
		K[i*2+0] = ph0*Sinv[0] + ph1*Sinv[2]
		K[i*2+1] = ph0*Sinv[1] + ph1*Sinv[3]
	}

	var X [n]float64
	for i := 0; i < n; i++ {
		X[i] = st.X[i] + K[i*2+0]*innovation[0] + K[i*2+1]*innovation[1]
	}

	// (I - K H) P: K H is non-zero only in its first two columns, so row i
	// of the product subtracts K[i,0]*P[0,:] + K[i,1]*P[1,:].
	var P [n * n]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			P[i*n+j] = st.P[i*n+j] - K[i*2+0]*st.P[0*n+j] - K[i*2+1]*st.P[1*n+j]
		}
	}

	if e.cfg.SymmetrizeCovariance {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				avg := 0.5 * (P[i*n+j] + P[j*n+i])
				P[i*n+j] = avg
				P[j*n+i] = avg
			}
		}
	}

	if !allFinite(X[:]) || !allFinite(P[:]) {
		return innovation, false
	}

	st.X = X
	st.P = P
	return innovation, true
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
