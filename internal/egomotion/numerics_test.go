package egomotion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// referenceCovariance builds a symmetric positive definite covariance with
// cross terms so the hand-expanded products are exercised off the diagonal.
func referenceCovariance() [StateSize * StateSize]float64 {
	L := mat.NewDense(StateSize, StateSize, []float64{
		2.0, 0, 0, 0, 0,
		0.3, 1.5, 0, 0, 0,
		0.8, -0.2, 1.1, 0, 0,
		-0.1, 0.4, 0.25, 0.9, 0,
		0.05, 0.02, -0.3, 0.1, 0.7,
	})
	var P mat.Dense
	P.Mul(L, L.T())

	var out [StateSize * StateSize]float64
	for i := 0; i < StateSize; i++ {
		for j := 0; j < StateSize; j++ {
			out[i*StateSize+j] = P.At(i, j)
		}
	}
	return out
}

func denseFrom(p [StateSize * StateSize]float64) *mat.Dense {
	return mat.NewDense(StateSize, StateSize, append([]float64(nil), p[:]...))
}

func assertDenseEqual(t *testing.T, want *mat.Dense, got [StateSize * StateSize]float64, tol float64) {
	t.Helper()
	for i := 0; i < StateSize; i++ {
		for j := 0; j < StateSize; j++ {
			assert.InDelta(t, want.At(i, j), got[i*StateSize+j], tol, "P[%d][%d]", i, j)
		}
	}
}

func TestPredict_MatchesDenseReference(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	st := &EstimatorState{P: referenceCovariance()}
	st.X = [StateSize]float64{3, -0.5, 0.2, 0.1, 45}
	dt := 0.037

	A := mat.NewDense(StateSize, StateSize, nil)
	for i := 0; i < StateSize; i++ {
		A.Set(i, i, 1)
	}
	A.Set(IdxVelX, IdxAccelX, dt)
	A.Set(IdxVelY, IdxAccelY, dt)
	Q := mat.NewDiagDense(StateSize, []float64{
		cfg.ProcessNoiseVelocity, cfg.ProcessNoiseVelocity,
		cfg.ProcessNoiseAccel, cfg.ProcessNoiseAccel,
		cfg.ProcessNoiseHeading,
	})

	var AP, want mat.Dense
	AP.Mul(A, denseFrom(st.P))
	want.Mul(&AP, A.T())
	want.Add(&want, Q)

	e.predict(st, dt, 1.5, -0.4, 10)

	assertDenseEqual(t, &want, st.P, 1e-12)
	assert.InDelta(t, 3+1.5*dt, st.X[IdxVelX], 1e-12)
	assert.InDelta(t, -0.5-0.4*dt, st.X[IdxVelY], 1e-12)
	assert.Equal(t, 1.5, st.X[IdxAccelX])
	assert.Equal(t, -0.4, st.X[IdxAccelY])
	assert.InDelta(t, 45+10*dt, st.X[IdxHeading], 1e-12)
}

func TestCorrect_MatchesDenseReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SymmetrizeCovariance = false
	e := New(cfg)
	st := &EstimatorState{P: referenceCovariance()}
	st.X = [StateSize]float64{3, -0.5, 0.2, 0.1, 45}
	zx, zy := 3.4, -0.1

	P := denseFrom(st.P)
	H := mat.NewDense(2, StateSize, []float64{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
	})
	R := mat.NewDiagDense(2, []float64{cfg.MeasurementNoiseVelocity, cfg.MeasurementNoiseVelocity})

	var PHt, S, Sinv, K mat.Dense
	PHt.Mul(P, H.T())
	S.Mul(H, &PHt)
	S.Add(&S, R)
	require.NoError(t, Sinv.Inverse(&S))
	K.Mul(&PHt, &Sinv)

	x := mat.NewVecDense(StateSize, append([]float64(nil), st.X[:]...))
	var hx, y, ky, wantX mat.VecDense
	hx.MulVec(H, x)
	y.SubVec(mat.NewVecDense(2, []float64{zx, zy}), &hx)
	ky.MulVec(&K, &y)
	wantX.AddVec(x, &ky)

	var KH, IminusKH, wantP mat.Dense
	KH.Mul(&K, H)
	I := mat.NewDiagDense(StateSize, []float64{1, 1, 1, 1, 1})
	IminusKH.Sub(I, &KH)
	wantP.Mul(&IminusKH, P)

	innovation, ok := e.correct(st, zx, zy)
	require.True(t, ok)

	assert.InDelta(t, y.AtVec(0), innovation[0], 1e-12)
	assert.InDelta(t, y.AtVec(1), innovation[1], 1e-12)
	for i := 0; i < StateSize; i++ {
		assert.InDelta(t, wantX.AtVec(i), st.X[i], 1e-10, "X[%d]", i)
	}
	assertDenseEqual(t, &wantP, st.P, 1e-10)
}

func TestCorrect_SingularInnovationCovarianceSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MeasurementNoiseVelocity = 0
	cfg.ProcessNoiseVelocity = 0
	cfg.ProcessNoiseAccel = 0
	cfg.ProcessNoiseHeading = 0
	e := New(cfg)

	// Zero covariance and zero measurement noise make S the zero matrix.
	st := &EstimatorState{LastUpdateTime: 900}
	var out EgoMotionRecord
	rep := e.Step(
		&TimeSample{CurrentTime: 1000},
		&GpsSample{Timestamp: 1000, VelocityX: 5},
		&ImuSample{AccelX: 1},
		st, &out,
	)

	require.True(t, rep.Applied)
	assert.True(t, rep.GpsFresh)
	assert.True(t, rep.Singular)
	assert.False(t, rep.GpsCorrected)
	assert.InDelta(t, 0.1, out.VelocityX, 1e-12)
}

func TestCorrect_RankDeficientInnovationCovarianceSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MeasurementNoiseVelocity = 0
	e := New(cfg)

	// Perfectly correlated velocity components give a rank-one S.
	st := &EstimatorState{}
	st.P[0*StateSize+0] = 4
	st.P[0*StateSize+1] = 4
	st.P[1*StateSize+0] = 4
	st.P[1*StateSize+1] = 4
	before := *st

	_, ok := e.correct(st, 1, 1)
	assert.False(t, ok)
	assert.Equal(t, before, *st)
}

func TestInvert2x2(t *testing.T) {
	tests := []struct {
		name       string
		a, b, c, d float64
		wantOK     bool
	}{
		{"identity", 1, 0, 0, 1, true},
		{"general", 4, 1, 2, 3, true},
		{"zero", 0, 0, 0, 0, false},
		{"rank one", 1, 2, 2, 4, false},
		{"near singular", 1, 1, 1, 1 + 1e-15, false},
		{"huge entries", 1e200, 1e199, 1e199, 1e200, true},
		{"tiny entries", 1e-200, 0, 0, 1e-200, true},
		{"NaN entry", math.NaN(), 0, 0, 1, false},
		{"infinite entry", math.Inf(1), 0, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, ok := invert2x2(tt.a, tt.b, tt.c, tt.d)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Equal(t, [4]float64{}, inv)
				return
			}
			// M * M⁻¹ should be the identity.
			m00 := tt.a*inv[0] + tt.b*inv[2]
			m01 := tt.a*inv[1] + tt.b*inv[3]
			m10 := tt.c*inv[0] + tt.d*inv[2]
			m11 := tt.c*inv[1] + tt.d*inv[3]
			assert.InDelta(t, 1, m00, 1e-9)
			assert.InDelta(t, 0, m01, 1e-9)
			assert.InDelta(t, 0, m10, 1e-9)
			assert.InDelta(t, 1, m11, 1e-9)
		})
	}
}

func TestCheckCovariance(t *testing.T) {
	t.Run("initialised state", func(t *testing.T) {
		var st EstimatorState
		Initialize(&st)
		h, err := CheckCovariance(st.P)
		require.NoError(t, err)
		assert.True(t, h.PositiveSemiDefinite)
		assert.InDelta(t, 100, h.MinEigenvalue, 1e-9)
		assert.InDelta(t, 100, h.MaxEigenvalue, 1e-9)
		assert.InDelta(t, 500, h.Trace, 1e-9)
		assert.Equal(t, 0.0, h.MaxAsymmetry)
	})

	t.Run("indefinite", func(t *testing.T) {
		var p [StateSize * StateSize]float64
		p[0] = 1
		p[1], p[5] = 2, 2
		p[6] = 1
		h, err := CheckCovariance(p)
		require.NoError(t, err)
		assert.False(t, h.PositiveSemiDefinite)
		assert.InDelta(t, -1, h.MinEigenvalue, 1e-9)
	})

	t.Run("asymmetric", func(t *testing.T) {
		p := referenceCovariance()
		p[1] += 0.5
		h, err := CheckCovariance(p)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, h.MaxAsymmetry, 1e-12)
	})

	t.Run("non-finite", func(t *testing.T) {
		var p [StateSize * StateSize]float64
		p[3] = math.NaN()
		_, err := CheckCovariance(p)
		assert.Error(t, err)
	})
}
