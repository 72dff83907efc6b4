// Package chamfer computes nearest neighbour distances between batches of point clouds
// and propagates gradients through the selected pairs.
package chamfer

import (
	"context"
	"fmt"
	"runtime"

	"github.com/drakos74/genmetrics/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	forwardPass  = "forward"
	backwardPass = "backward"
)

// Result holds the squared nearest neighbour distances and their indices.
// Dist1 and Idx1 are laid out as [Batch, N], Dist2 and Idx2 as [Batch, M].
type Result struct {
	Batch int
	N     int
	M     int
	Dist1 []float64
	Dist2 []float64
	Idx1  []int
	Idx2  []int
}

// Loss is the chamfer distance mean(dist1) + mean(dist2), averaged over the batch.
func (r *Result) Loss() float64 {
	var sum1, sum2 float64
	for _, d := range r.Dist1 {
		sum1 += d
	}
	for _, d := range r.Dist2 {
		sum2 += d
	}
	return (sum1/float64(r.N) + sum2/float64(r.M)) / float64(r.Batch)
}

// Context keeps what the backward pass needs from a forward pass.
type Context struct {
	backend Backend
	dim     int
	a, b    Cloud
	result  *Result
}

// Operator computes chamfer distances with a given backend.
type Operator struct {
	backend Backend
	impl    implementation
	workers int
}

// New creates an operator for the given backend.
func New(backend Backend) (*Operator, error) {
	impl, err := lookup(backend)
	if err != nil {
		return nil, err
	}
	return &Operator{
		backend: backend,
		impl:    impl,
		workers: runtime.GOMAXPROCS(0),
	}, nil
}

// Forward finds for every point of a the closest point of b and vice versa.
// Planar clouds are treated as lying on z = 0.
func (o *Operator) Forward(ctx context.Context, a, b Cloud) (*Result, *Context, error) {
	if err := compatible(a, b); err != nil {
		return nil, nil, err
	}
	dim := a.Dim
	a, b = a.spatial(), b.spatial()
	n, m := a.Points, b.Points

	r := &Result{
		Batch: a.Batch,
		N:     n,
		M:     m,
		Dist1: make([]float64, a.Batch*n),
		Dist2: make([]float64, a.Batch*m),
		Idx1:  make([]int, a.Batch*n),
		Idx2:  make([]int, a.Batch*m),
	}

	element := func(k int) {
		o.impl.kernel(a.element(k), b.element(k), n, m,
			r.Dist1[k*n:(k+1)*n], r.Idx1[k*n:(k+1)*n],
			r.Dist2[k*m:(k+1)*m], r.Idx2[k*m:(k+1)*m])
	}

	if o.impl.concurrent && a.Batch > 1 {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for k := 0; k < a.Batch; k++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				element(k)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, fmt.Errorf("chamfer forward interrupted: %w", err)
		}
	} else {
		for k := 0; k < a.Batch; k++ {
			if err := ctx.Err(); err != nil {
				return nil, nil, fmt.Errorf("chamfer forward interrupted: %w", err)
			}
			element(k)
		}
	}

	metrics.Observer.Chamfer(string(o.backend), forwardPass)
	log.Debug().
		Str("backend", string(o.backend)).
		Int("batch", r.Batch).
		Int("n", n).
		Int("m", m).
		Msg("chamfer forward")

	return r, &Context{
		backend: o.backend,
		dim:     dim,
		a:       a,
		b:       b,
		result:  r,
	}, nil
}

// Backward scatters the distance gradients onto the coordinates of the two clouds.
// grad1 is laid out as Dist1 and grad2 as Dist2.
// The gradients have the dimensionality of the clouds given to Forward.
func (c *Context) Backward(grad1, grad2 []float64) (Cloud, Cloud, error) {
	r := c.result
	if len(grad1) != len(r.Dist1) {
		return Cloud{}, Cloud{}, fmt.Errorf("gradient of length %d for %d distances: %w", len(grad1), len(r.Dist1), ErrInvalidCloud)
	}
	if len(grad2) != len(r.Dist2) {
		return Cloud{}, Cloud{}, fmt.Errorf("gradient of length %d for %d distances: %w", len(grad2), len(r.Dist2), ErrInvalidCloud)
	}

	ga := make([]float64, len(c.a.Data))
	gb := make([]float64, len(c.b.Data))

	for k := 0; k < r.Batch; k++ {
		for i := 0; i < r.N; i++ {
			j := r.Idx1[k*r.N+i]
			scatter(ga, gb, c.a, c.b, k, i, j, grad1[k*r.N+i])
		}
		for j := 0; j < r.M; j++ {
			i := r.Idx2[k*r.M+j]
			scatter(gb, ga, c.b, c.a, k, j, i, grad2[k*r.M+j])
		}
	}

	metrics.Observer.Chamfer(string(c.backend), backwardPass)

	return c.restore(c.a, ga), c.restore(c.b, gb), nil
}

// BackwardLoss is the gradient of Result.Loss.
func (c *Context) BackwardLoss() (Cloud, Cloud, error) {
	r := c.result
	grad1 := make([]float64, len(r.Dist1))
	for i := range grad1 {
		grad1[i] = 1 / float64(r.Batch*r.N)
	}
	grad2 := make([]float64, len(r.Dist2))
	for j := range grad2 {
		grad2[j] = 1 / float64(r.Batch*r.M)
	}
	return c.Backward(grad1, grad2)
}

// scatter adds the gradient of g*||p_i - q_j||^2 for batch element k.
func scatter(gp, gq []float64, p, q Cloud, k, i, j int, g float64) {
	if g == 0 {
		return
	}
	pi := p.Point(k, i)
	qj := q.Point(k, j)
	oi := (k*p.Points + i) * 3
	oj := (k*q.Points + j) * 3
	for d := 0; d < 3; d++ {
		v := 2 * g * (pi[d] - qj[d])
		gp[oi+d] += v
		gq[oj+d] -= v
	}
}

// restore drops the embedding coordinate for planar inputs.
func (c *Context) restore(cloud Cloud, grad []float64) Cloud {
	out := Cloud{
		Batch:  cloud.Batch,
		Points: cloud.Points,
		Dim:    c.dim,
		Data:   grad,
	}
	if c.dim == 3 {
		return out
	}
	out.Data = make([]float64, cloud.Batch*cloud.Points*c.dim)
	for p := 0; p < cloud.Batch*cloud.Points; p++ {
		copy(out.Data[p*c.dim:(p+1)*c.dim], grad[p*3:p*3+c.dim])
	}
	return out
}

// Distance is the chamfer distance between the two clouds with the gonum backend.
func Distance(ctx context.Context, a, b Cloud) (float64, error) {
	op, err := New(Gonum)
	if err != nil {
		return 0, err
	}
	r, _, err := op.Forward(ctx, a, b)
	if err != nil {
		return 0, err
	}
	return r.Loss(), nil
}
