package fid

import (
	"errors"
	"fmt"

	gmath "github.com/drakos74/genmetrics/internal/math"
	"github.com/drakos74/genmetrics/internal/metrics"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultEpsilon is the offset added to the covariance diagonals
	// when their product has no finite square root.
	DefaultEpsilon = 1e-6
	// imaginaryTolerance bounds the imaginary part tolerated on the diagonal of the square root.
	imaginaryTolerance = 1e-3
)

// sqrtm is the matrix square root used for the covariance product.
var sqrtm = gmath.Sqrtm

var (
	ErrNoSamples         = errors.New("no samples")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrSingularProduct   = errors.New("singular covariance product")
)

// ImaginaryComponentError is returned when the square root of the covariance product
// keeps a significant imaginary part.
type ImaginaryComponentError struct {
	Max float64
}

func (e *ImaginaryComponentError) Error() string {
	return fmt.Sprintf("imaginary component %v", e.Max)
}

// FrechetDistance computes the Fréchet distance between two gaussians
// X_1 ~ N(mu_1, C_1) and X_2 ~ N(mu_2, C_2)
//
//	d^2 = ||mu_1 - mu_2||^2 + Tr(C_1 + C_2 - 2*sqrt(C_1*C_2))
//
// with the default epsilon for the regularisation of singular products.
func FrechetDistance(s1, s2 Statistics) (float64, error) {
	return FrechetDistanceEps(s1, s2, DefaultEpsilon)
}

// FrechetDistanceEps is FrechetDistance with an explicit regularisation offset.
// If sqrt(C_1*C_2) is not finite, eps is added once to both diagonals.
// Imaginary parts on the diagonal of the root above 1e-3 are an error,
// smaller ones are dropped.
func FrechetDistanceEps(s1, s2 Statistics, eps float64) (float64, error) {
	if err := compatible(s1, s2); err != nil {
		return 0, err
	}

	diff := make([]float64, len(s1.Mu))
	floats.SubTo(diff, s1.Mu, s2.Mu)

	var product mat.Dense
	product.Mul(s1.Sigma, s2.Sigma)

	root, err := sqrtm(&product)
	if err != nil {
		if !errors.Is(err, gmath.ErrNotFinite) {
			return 0, fmt.Errorf("could not compute square root of covariance product: %w", err)
		}
		log.Warn().
			Err(err).
			Float64("eps", eps).
			Msg("fid calculation produces singular product; adding eps to diagonal of cov estimates")
		metrics.Observer.Regularized()

		product.Mul(gmath.AddDiag(s1.Sigma, eps), gmath.AddDiag(s2.Sigma, eps))
		root, err = sqrtm(&product)
		if err != nil {
			return 0, fmt.Errorf("%w after adding %v to the diagonal: %v", ErrSingularProduct, eps, err)
		}
	}

	if gmath.MaxAbsDiag(root.Im) > imaginaryTolerance {
		return 0, &ImaginaryComponentError{Max: gmath.MaxAbs(root.Im)}
	}

	return floats.Dot(diff, diff) + mat.Trace(s1.Sigma) + mat.Trace(s2.Sigma) - 2*mat.Trace(root.Re), nil
}

func compatible(s1, s2 Statistics) error {
	if len(s1.Mu) != len(s2.Mu) {
		return fmt.Errorf("mean vectors have different lengths [%d vs %d]: %w", len(s1.Mu), len(s2.Mu), ErrDimensionMismatch)
	}
	if s1.Sigma == nil || s2.Sigma == nil {
		return fmt.Errorf("missing covariance: %w", ErrDimensionMismatch)
	}
	d1, d2 := s1.Sigma.SymmetricDim(), s2.Sigma.SymmetricDim()
	if d1 != d2 {
		return fmt.Errorf("covariances have different dimensions [%d vs %d]: %w", d1, d2, ErrDimensionMismatch)
	}
	if d1 != len(s1.Mu) {
		return fmt.Errorf("covariance of dimension %d for mean of length %d: %w", d1, len(s1.Mu), ErrDimensionMismatch)
	}
	if d1 == 0 {
		return fmt.Errorf("empty statistics: %w", ErrNoSamples)
	}
	return nil
}
