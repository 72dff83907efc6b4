package chamfer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Backend names a nearest neighbour kernel.
type Backend string

const (
	Naive Backend = "naive"
	Gonum Backend = "gonum"
)

var ErrUnknownBackend = errors.New("unknown backend")

// kernel finds the nearest neighbours between the n points of a and the m points of b,
// both given as flat 3-D coordinates.
type kernel func(a, b []float64, n, m int, dist1 []float64, idx1 []int, dist2 []float64, idx2 []int)

type implementation struct {
	kernel kernel
	// concurrent processes the batch elements in parallel.
	concurrent bool
}

var kernels = map[Backend]implementation{
	Naive: {kernel: naive},
	Gonum: {kernel: pairwise, concurrent: true},
}

func lookup(backend Backend) (implementation, error) {
	impl, ok := kernels[backend]
	if !ok {
		return implementation{}, fmt.Errorf("'%s': %w", backend, ErrUnknownBackend)
	}
	return impl, nil
}

// Backends lists the available backends.
func Backends() []Backend {
	return []Backend{Naive, Gonum}
}

func reset(dist []float64, idx []int) {
	for i := range dist {
		dist[i] = math.Inf(1)
		idx[i] = 0
	}
}

func naive(a, b []float64, n, m int, dist1 []float64, idx1 []int, dist2 []float64, idx2 []int) {
	reset(dist1, idx1)
	reset(dist2, idx2)
	for i := 0; i < n; i++ {
		x, y, z := a[i*3], a[i*3+1], a[i*3+2]
		for j := 0; j < m; j++ {
			dx, dy, dz := x-b[j*3], y-b[j*3+1], z-b[j*3+2]
			d := dx*dx + dy*dy + dz*dz
			if d < dist1[i] {
				dist1[i] = d
				idx1[i] = j
			}
			if d < dist2[j] {
				dist2[j] = d
				idx2[j] = i
			}
		}
	}
}

// pairwise expands ||a-b||^2 into ||a||^2 + ||b||^2 - 2a.b so that the cross terms go through a single matrix product.
// Both sets are centred on their common centroid first, as the expansion loses precision far from the origin.
// The selected distances are then recomputed from the coordinates.
func pairwise(a, b []float64, n, m int, dist1 []float64, idx1 []int, dist2 []float64, idx2 []int) {
	A, B := centred(a, b, n, m)

	var cross mat.Dense
	cross.Mul(A, B.T())

	na := norms(A)
	nb := norms(B)

	reset(dist1, idx1)
	reset(dist2, idx2)
	for i := 0; i < n; i++ {
		row := cross.RawRowView(i)
		for j := 0; j < m; j++ {
			// cancellation can push the expansion below zero
			d := math.Max(0, na[i]+nb[j]-2*row[j])
			if d < dist1[i] {
				dist1[i] = d
				idx1[i] = j
			}
			if d < dist2[j] {
				dist2[j] = d
				idx2[j] = i
			}
		}
	}

	for i := 0; i < n; i++ {
		dist1[i] = squared(a[i*3:i*3+3], b[idx1[i]*3:idx1[i]*3+3])
	}
	for j := 0; j < m; j++ {
		dist2[j] = squared(b[j*3:j*3+3], a[idx2[j]*3:idx2[j]*3+3])
	}
}

// centred copies both point sets shifted by the centroid of their union.
func centred(a, b []float64, n, m int) (*mat.Dense, *mat.Dense) {
	var c [3]float64
	for p := 0; p < n; p++ {
		for d := 0; d < 3; d++ {
			c[d] += a[p*3+d]
		}
	}
	for p := 0; p < m; p++ {
		for d := 0; d < 3; d++ {
			c[d] += b[p*3+d]
		}
	}
	for d := range c {
		c[d] /= float64(n + m)
	}
	shift := func(x []float64, k int) *mat.Dense {
		data := make([]float64, len(x))
		for p := 0; p < k; p++ {
			for d := 0; d < 3; d++ {
				data[p*3+d] = x[p*3+d] - c[d]
			}
		}
		return mat.NewDense(k, 3, data)
	}
	return shift(a, n), shift(b, m)
}

func squared(p, q []float64) float64 {
	dx, dy, dz := p[0]-q[0], p[1]-q[1], p[2]-q[2]
	return dx*dx + dy*dy + dz*dz
}

func norms(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	n := make([]float64, r)
	for i := range n {
		row := m.RawRowView(i)
		n[i] = floats.Dot(row, row)
	}
	return n
}
