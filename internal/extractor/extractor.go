// Package extractor holds the feature extractors the activation statistics run on.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/drakos74/genmetrics/internal/storage/file/json"
	"github.com/drakos74/genmetrics/internal/tensor"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var InvalidCheckpointErr = errors.New("invalid checkpoint")

// Extractor maps a batch of images [N, C, H, W] to a feature map [N, D, H', W'].
// Implementations must not mutate their weights during Forward.
type Extractor interface {
	Forward(ctx context.Context, batch *tensor.Tensor) (*tensor.Tensor, error)
}

// Layer is a 1x1 convolution in checkpoint form.
type Layer struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Checkpoint is the serialised form of a Pointwise network.
type Checkpoint struct {
	Layers []Layer `json:"layers"`
	// Pool is the stride of the average pooling applied to the input.
	Pool int `json:"pool"`
}

type layer struct {
	w *mat.Dense
	b []float64
}

// Pointwise is a stack of 1x1 convolutions with ReLU activations
// on top of a strided average pooling of the input.
type Pointwise struct {
	layers []layer
	pool   int
}

// New creates a Pointwise network from the given checkpoint.
func New(cp Checkpoint) (*Pointwise, error) {
	if len(cp.Layers) == 0 {
		return nil, fmt.Errorf("no layers: %w", InvalidCheckpointErr)
	}
	layers := make([]layer, len(cp.Layers))
	in := 0
	for i, l := range cp.Layers {
		out := len(l.Weights)
		if out == 0 || len(l.Weights[0]) == 0 {
			return nil, fmt.Errorf("layer %d has no weights: %w", i, InvalidCheckpointErr)
		}
		cols := len(l.Weights[0])
		if i > 0 && cols != in {
			return nil, fmt.Errorf("layer %d expects %d channels but previous layer gives %d: %w", i, cols, in, InvalidCheckpointErr)
		}
		if len(l.Bias) != out {
			return nil, fmt.Errorf("layer %d has %d biases for %d outputs: %w", i, len(l.Bias), out, InvalidCheckpointErr)
		}
		w := mat.NewDense(out, cols, nil)
		for r, row := range l.Weights {
			if len(row) != cols {
				return nil, fmt.Errorf("layer %d row %d has %d weights instead of %d: %w", i, r, len(row), cols, InvalidCheckpointErr)
			}
			w.SetRow(r, row)
		}
		b := make([]float64, out)
		copy(b, l.Bias)
		layers[i] = layer{w: w, b: b}
		in = out
	}
	pool := cp.Pool
	if pool < 1 {
		pool = 1
	}
	return &Pointwise{
		layers: layers,
		pool:   pool,
	}, nil
}

// Load reads a Pointwise network from a json checkpoint file.
func Load(path string) (*Pointwise, error) {
	var cp Checkpoint
	if err := json.Load(filepath.Dir(path), filepath.Base(path), &cp); err != nil {
		return nil, fmt.Errorf("could not load checkpoint '%s': %w", path, err)
	}
	p, err := New(cp)
	if err != nil {
		return nil, fmt.Errorf("could not build network from '%s': %w", path, err)
	}
	log.Info().
		Str("checkpoint", path).
		Int("layers", len(p.layers)).
		Int("in", p.In()).
		Int("dims", p.Dims()).
		Int("pool", p.pool).
		Msg("loaded extractor")
	return p, nil
}

// In is the number of input channels.
func (p *Pointwise) In() int {
	_, c := p.layers[0].w.Dims()
	return c
}

// Dims is the number of output channels, i.e. the feature dimension.
func (p *Pointwise) Dims() int {
	r, _ := p.layers[len(p.layers)-1].w.Dims()
	return r
}

func (p *Pointwise) Forward(ctx context.Context, batch *tensor.Tensor) (*tensor.Tensor, error) {
	if batch.Rank() != 4 {
		return nil, fmt.Errorf("expected [N, C, H, W] but got %v: %w", batch.Shape(), tensor.ShapeErr)
	}
	if batch.Dim(1) != p.In() {
		return nil, fmt.Errorf("expected %d channels but got %d: %w", p.In(), batch.Dim(1), tensor.ShapeErr)
	}
	x, err := avgPool(batch, p.pool)
	if err != nil {
		return nil, err
	}
	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	plane := h * w
	out := make([]float64, n*p.Dims()*plane)
	for s := 0; s < n; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := x.Dim(1)
		var a mat.Matrix = mat.NewDense(c, plane, x.Data()[s*c*plane:(s+1)*c*plane])
		for _, l := range p.layers {
			var y mat.Dense
			y.Mul(l.w, a)
			rows, cols := y.Dims()
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					// relu
					v := y.At(i, j) + l.b[i]
					if v < 0 {
						v = 0
					}
					y.Set(i, j, v)
				}
			}
			a = &y
		}
		dst := mat.NewDense(p.Dims(), plane, out[s*p.Dims()*plane:(s+1)*p.Dims()*plane])
		dst.Copy(a)
	}
	return tensor.FromData(out, n, p.Dims(), h, w)
}

// avgPool averages non-overlapping stride x stride windows,
// dropping the rows and columns that do not fill a window.
func avgPool(t *tensor.Tensor, stride int) (*tensor.Tensor, error) {
	if stride <= 1 {
		return t, nil
	}
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	oh, ow := h/stride, w/stride
	if oh == 0 || ow == 0 {
		return nil, fmt.Errorf("input %dx%d is smaller than the pooling stride %d: %w", h, w, stride, tensor.ShapeErr)
	}
	out := tensor.New(n, c, oh, ow)
	area := float64(stride * stride)
	for s := 0; s < n; s++ {
		for ch := 0; ch < c; ch++ {
			for i := 0; i < oh; i++ {
				for j := 0; j < ow; j++ {
					var sum float64
					for di := 0; di < stride; di++ {
						for dj := 0; dj < stride; dj++ {
							sum += t.At(s, ch, i*stride+di, j*stride+dj)
						}
					}
					out.Set(sum/area, s, ch, i, j)
				}
			}
		}
	}
	return out, nil
}
