package fid

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	gmath "github.com/drakos74/genmetrics/internal/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func gaussian(mu []float64, sigma ...float64) Statistics {
	return Statistics{
		Mu:    mu,
		Sigma: mat.NewSymDense(len(mu), sigma),
	}
}

func randomStatistics(rnd *rand.Rand, n, d int) Statistics {
	act := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			act.Set(i, j, rnd.NormFloat64()+float64(j))
		}
	}
	s, err := NewStatistics(act)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func TestFrechetDistance(t *testing.T) {

	type test struct {
		s1, s2 Statistics
		fid    float64
	}

	tests := map[string]test{
		"1d-shifted-mean": {
			s1:  gaussian([]float64{0}, 1),
			s2:  gaussian([]float64{3}, 1),
			fid: 9,
		},
		"1d-scaled-variance": {
			// (1 - 2)^2 for the standard deviations
			s1:  gaussian([]float64{0}, 1),
			s2:  gaussian([]float64{0}, 4),
			fid: 1,
		},
		"diagonal": {
			// ||(1,1)||^2 + (1 + 4 + 9 + 16) - 2 * (3 + 8)
			s1:  gaussian([]float64{0, 0}, 1, 0, 0, 4),
			s2:  gaussian([]float64{1, 1}, 9, 0, 0, 16),
			fid: 2 + 30 - 22,
		},
		"identical": {
			s1:  gaussian([]float64{1, 2}, 2, 0.5, 0.5, 1),
			s2:  gaussian([]float64{1, 2}, 2, 0.5, 0.5, 1),
			fid: 0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fid, err := FrechetDistance(tt.s1, tt.s2)
			require.NoError(t, err)
			assert.InDelta(t, tt.fid, fid, 1e-9)
		})
	}
}

func TestFrechetDistance_Properties(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 5; i++ {
		a := randomStatistics(rnd, 40, 5)
		b := randomStatistics(rnd, 30, 5)

		self, err := FrechetDistance(a, a)
		require.NoError(t, err)
		assert.InDelta(t, 0, self, 1e-8)

		ab, err := FrechetDistance(a, b)
		require.NoError(t, err)
		ba, err := FrechetDistance(b, a)
		require.NoError(t, err)
		assert.InDelta(t, ab, ba, 1e-8)
		assert.GreaterOrEqual(t, ab, -1e-9)
	}
}

func TestFrechetDistance_RankDeficient(t *testing.T) {

	type test struct {
		samples, dims int
	}

	tests := map[string]test{
		"10x64": {samples: 10, dims: 64},
		"30x64": {samples: 30, dims: 64},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(int64(tt.samples)))
			// fewer samples than features leave the covariances singular
			a := randomStatistics(rnd, tt.samples, tt.dims)
			b := randomStatistics(rnd, tt.samples, tt.dims)

			self, err := FrechetDistance(a, a)
			require.NoError(t, err)
			assert.InDelta(t, 0, self, 1e-4)

			ab, err := FrechetDistance(a, b)
			require.NoError(t, err)
			ba, err := FrechetDistance(b, a)
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-4)
			assert.Greater(t, ab, 0.0)
		})
	}
}

func TestFrechetDistance_DimensionMismatch(t *testing.T) {

	type test struct {
		s1, s2 Statistics
	}

	tests := map[string]test{
		"mean": {
			s1: gaussian([]float64{0}, 1),
			s2: gaussian([]float64{0, 0}, 1, 0, 0, 1),
		},
		"covariance": {
			s1: gaussian([]float64{0, 0}, 1, 0, 0, 1),
			s2: Statistics{Mu: []float64{0, 0}, Sigma: mat.NewSymDense(3, nil)},
		},
		"missing-covariance": {
			s1: gaussian([]float64{0}, 1),
			s2: Statistics{Mu: []float64{0}},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FrechetDistance(tt.s1, tt.s2)
			assert.True(t, errors.Is(err, ErrDimensionMismatch))
		})
	}
}

func TestFrechetDistance_ImaginaryComponent(t *testing.T) {
	// the product is negative, its root purely imaginary
	_, err := FrechetDistance(gaussian([]float64{0}, -1), gaussian([]float64{0}, 1))
	var imaginary *ImaginaryComponentError
	require.True(t, errors.As(err, &imaginary))
	assert.InDelta(t, 1, imaginary.Max, 1e-12)
}

func TestFrechetDistance_Regularization(t *testing.T) {
	defer func() {
		sqrtm = gmath.Sqrtm
	}()

	calls := 0
	var offsets []float64
	sqrtm = func(a mat.Matrix) (*gmath.Root, error) {
		calls++
		offsets = append(offsets, a.At(0, 0))
		if calls == 1 {
			return nil, gmath.ErrNotFinite
		}
		return gmath.Sqrtm(a)
	}

	eps := 0.5
	fid, err := FrechetDistanceEps(gaussian([]float64{0}, 1), gaussian([]float64{3}, 1), eps)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// the second product runs on the offset diagonals
	assert.Equal(t, []float64{1, (1 + eps) * (1 + eps)}, offsets)
	// 9 + 1 + 1 - 2 * 1.5
	assert.InDelta(t, 8, fid, 1e-12)
}

func TestFrechetDistance_Singular(t *testing.T) {
	s := gaussian([]float64{0}, math.NaN())
	_, err := FrechetDistance(s, gaussian([]float64{0}, 1))
	assert.True(t, errors.Is(err, ErrSingularProduct))
}
