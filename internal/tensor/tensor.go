// Package tensor is a minimal dense float64 tensor in row-major order,
// used to move image batches and feature maps between the dataset, the extractor
// and the statistics.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ShapeErr = errors.New("invalid shape")

// Tensor is a dense tensor.
// Batches are laid out as [N, C, H, W].
type Tensor struct {
	shape   []int
	strides []int
	data    []float64
}

// New creates a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	t, err := FromData(make([]float64, size(shape)), shape...)
	if err != nil {
		panic(err.Error())
	}
	return t
}

// FromData wraps the given data into a tensor of the given shape.
// The data is not copied.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("non positive dimension in %v: %w", shape, ShapeErr)
		}
	}
	if size(shape) != len(data) {
		return nil, fmt.Errorf("data of length %d does not fit %v: %w", len(data), shape, ShapeErr)
	}
	sh := make([]int, len(shape))
	copy(sh, shape)
	return &Tensor{
		shape:   sh,
		strides: strides(sh),
		data:    data,
	}, nil
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = s
		s *= shape[i]
	}
	return st
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int {
	sh := make([]int, len(t.shape))
	copy(sh, t.shape)
	return sh
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Data returns the underlying buffer.
func (t *Tensor) Data() []float64 {
	return t.data
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("index %v does not match shape %v", idx, t.shape))
	}
	o := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %v", idx, t.shape))
		}
		o += v * t.strides[i]
	}
	return o
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set sets the element at the given index.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Stack stacks equally shaped tensors along a new leading dimension.
func Stack(tt ...*Tensor) (*Tensor, error) {
	if len(tt) == 0 {
		return nil, fmt.Errorf("nothing to stack: %w", ShapeErr)
	}
	first := tt[0]
	data := make([]float64, 0, len(tt)*len(first.data))
	for i, t := range tt {
		if !sameShape(first.shape, t.shape) {
			return nil, fmt.Errorf("element %d has shape %v instead of %v: %w", i, t.shape, first.shape, ShapeErr)
		}
		data = append(data, t.data...)
	}
	return FromData(data, append([]int{len(tt)}, first.shape...)...)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AdaptiveAvgPool averages each [H, W] plane of an [N, C, H, W] tensor,
// producing an [N, C, 1, 1] tensor.
func (t *Tensor) AdaptiveAvgPool() (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("pooling needs [N, C, H, W] but got %v: %w", t.shape, ShapeErr)
	}
	n, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	plane := h * w
	out := make([]float64, n*c)
	for i := range out {
		out[i] = floats.Sum(t.data[i*plane:(i+1)*plane]) / float64(plane)
	}
	return FromData(out, n, c, 1, 1)
}

// Features turns an [N, C, H, W] feature map into an N x C matrix.
// Spatially non-degenerate maps are average pooled first.
func (t *Tensor) Features() (*mat.Dense, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("features need [N, C, H, W] but got %v: %w", t.shape, ShapeErr)
	}
	p := t
	if t.shape[2] != 1 || t.shape[3] != 1 {
		pooled, err := t.AdaptiveAvgPool()
		if err != nil {
			return nil, err
		}
		p = pooled
	}
	data := make([]float64, len(p.data))
	copy(data, p.data)
	return mat.NewDense(p.shape[0], p.shape[1], data), nil
}
