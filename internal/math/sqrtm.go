package math

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ErrNotFinite signals that a decomposition could not produce a finite result.
var ErrNotFinite = errors.New("not finite")

// Root is the principal square root of a square matrix,
// split in its real and imaginary part.
type Root struct {
	Re *mat.Dense
	Im *mat.Dense
}

// Sqrtm computes the principal square root of the given square matrix.
// The matrix does not need to be symmetric, so the result may be complex.
// It is computed from the eigen decomposition a = V diag(λ) V^-1 as V diag(√λ) V^-1,
// where all complex products run on the real embedding [[X -Y] [Y X]] of X + iY.
// Defective or singular decompositions return an error wrapping ErrNotFinite.
func Sqrtm(a mat.Matrix) (*Root, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("matrix is not square [%d x %d]", n, c)
	}
	if n == 0 {
		return nil, fmt.Errorf("matrix is empty")
	}
	if !Finite(a) {
		return nil, fmt.Errorf("matrix has non-finite entries: %w", ErrNotFinite)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenRight); !ok {
		return nil, fmt.Errorf("eigen decomposition did not converge: %w", ErrNotFinite)
	}
	values := eig.Values(nil)
	var vectors mat.CDense
	eig.VectorsTo(&vectors)

	roots := make([]complex128, n)
	for i, v := range values {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return nil, fmt.Errorf("eigen value %d is %v: %w", i, v, ErrNotFinite)
		}
		roots[i] = cmplx.Sqrt(v)
	}

	var inv mat.Dense
	if err := inv.Inverse(Embed(&vectors)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("eigen vectors are singular (%v): %w", err, ErrNotFinite)
		}
	}

	var r mat.Dense
	r.Mul(Embed(scaleColumns(&vectors, roots)), &inv)

	root := &Root{
		Re: mat.DenseCopyOf(r.Slice(0, n, 0, n)),
		Im: mat.DenseCopyOf(r.Slice(n, 2*n, 0, n)),
	}
	if !Finite(root.Re) || !Finite(root.Im) {
		return nil, fmt.Errorf("square root has non-finite entries: %w", ErrNotFinite)
	}
	return root, nil
}

// Embed maps the complex matrix X + iY to the real block matrix [[X -Y] [Y X]].
// Products and inverses commute with the embedding.
func Embed(z mat.CMatrix) *mat.Dense {
	n, m := z.Dims()
	e := mat.NewDense(2*n, 2*m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := z.At(i, j)
			e.Set(i, j, real(v))
			e.Set(i, j+m, -imag(v))
			e.Set(i+n, j, imag(v))
			e.Set(i+n, j+m, real(v))
		}
	}
	return e
}

func scaleColumns(z mat.CMatrix, s []complex128) *mat.CDense {
	n, m := z.Dims()
	d := mat.NewCDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			d.Set(i, j, z.At(i, j)*s[j])
		}
	}
	return d
}

// Finite reports whether all entries of the matrix are finite.
func Finite(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// MaxAbsDiag returns the largest absolute value on the diagonal.
func MaxAbsDiag(a mat.Matrix) float64 {
	r, c := a.Dims()
	var m float64
	for i := 0; i < r && i < c; i++ {
		m = math.Max(m, math.Abs(a.At(i, i)))
	}
	return m
}

// MaxAbs returns the largest absolute entry of the matrix.
func MaxAbs(a mat.Matrix) float64 {
	r, c := a.Dims()
	var m float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m = math.Max(m, math.Abs(a.At(i, j)))
		}
	}
	return m
}

// AddDiag returns a copy of the matrix with eps added to the diagonal.
func AddDiag(a mat.Matrix, eps float64) *mat.Dense {
	d := mat.DenseCopyOf(a)
	r, c := d.Dims()
	for i := 0; i < r && i < c; i++ {
		d.Set(i, i, d.At(i, i)+eps)
	}
	return d
}
