package egomotion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// psdTolerance is the relative eigenvalue slack allowed before a covariance
// is reported as not positive semi-definite.
const psdTolerance = 1e-9

// CovarianceHealth summarises the numerical condition of a covariance matrix.
type CovarianceHealth struct {
	MaxAsymmetry  float64 `json:"max_asymmetry"`
	MinDiagonal   float64 `json:"min_diagonal"`
	MinEigenvalue float64 `json:"min_eigenvalue"`
	MaxEigenvalue float64 `json:"max_eigenvalue"`
	Trace         float64 `json:"trace"`
	// PositiveSemiDefinite is false when the symmetric part of P has an
	// eigenvalue below -psdTolerance * max(1, trace).
	PositiveSemiDefinite bool `json:"positive_semi_definite"`
}

// CheckCovariance inspects p for asymmetry and loss of positive
// semi-definiteness. It allocates and is meant for periodic host-side
// diagnostics, not the per-cycle path.
func CheckCovariance(p [StateSize * StateSize]float64) (CovarianceHealth, error) {
	const n = StateSize
	var h CovarianceHealth
	if !allFinite(p[:]) {
		return h, fmt.Errorf("covariance contains non-finite values")
	}

	sym := make([]float64, n*n)
	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		diag[i] = p[i*n+i]
		for j := 0; j < n; j++ {
			a, b := p[i*n+j], p[j*n+i]
			h.MaxAsymmetry = math.Max(h.MaxAsymmetry, math.Abs(a-b))
			sym[i*n+j] = 0.5 * (a + b)
		}
	}
	h.MinDiagonal = floats.Min(diag)
	h.Trace = floats.Sum(diag)

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(n, sym), false); !ok {
		return h, fmt.Errorf("eigendecomposition of covariance failed")
	}
	values := eig.Values(nil)
	h.MinEigenvalue = floats.Min(values)
	h.MaxEigenvalue = floats.Max(values)
	h.PositiveSemiDefinite = h.MinEigenvalue >= -psdTolerance*math.Max(1, math.Abs(h.Trace))
	return h, nil
}
