package chamfer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCloud      = errors.New("invalid point cloud")
	ErrBatchMismatch     = errors.New("batch size mismatch")
	ErrDimensionMismatch = errors.New("point dimension mismatch")
)

// Cloud is a batch of point sets stored as a flat [Batch, Points, Dim] array.
type Cloud struct {
	Batch  int
	Points int
	Dim    int
	Data   []float64
}

// NewCloud creates a cloud on top of the given data.
func NewCloud(batch, points, dim int, data []float64) (Cloud, error) {
	c := Cloud{
		Batch:  batch,
		Points: points,
		Dim:    dim,
		Data:   data,
	}
	return c, c.validate()
}

// Point returns the coordinates of point i of batch element b.
func (c Cloud) Point(b, i int) []float64 {
	start := (b*c.Points + i) * c.Dim
	return c.Data[start : start+c.Dim]
}

// element returns the points of batch element b.
func (c Cloud) element(b int) []float64 {
	size := c.Points * c.Dim
	return c.Data[b*size : (b+1)*size]
}

func (c Cloud) validate() error {
	if c.Batch < 1 || c.Points < 1 {
		return fmt.Errorf("empty cloud [%d,%d,%d]: %w", c.Batch, c.Points, c.Dim, ErrInvalidCloud)
	}
	if c.Dim != 2 && c.Dim != 3 {
		return fmt.Errorf("points must have 2 or 3 coordinates, got %d: %w", c.Dim, ErrInvalidCloud)
	}
	if len(c.Data) != c.Batch*c.Points*c.Dim {
		return fmt.Errorf("data of length %d for shape [%d,%d,%d]: %w", len(c.Data), c.Batch, c.Points, c.Dim, ErrInvalidCloud)
	}
	return nil
}

// spatial copies the cloud into 3-D coordinates,
// embedding planar clouds with a zero third coordinate.
func (c Cloud) spatial() Cloud {
	data := make([]float64, c.Batch*c.Points*3)
	for p := 0; p < c.Batch*c.Points; p++ {
		copy(data[p*3:], c.Data[p*c.Dim:(p+1)*c.Dim])
	}
	return Cloud{
		Batch:  c.Batch,
		Points: c.Points,
		Dim:    3,
		Data:   data,
	}
}

func compatible(a, b Cloud) error {
	if err := a.validate(); err != nil {
		return fmt.Errorf("first cloud: %w", err)
	}
	if err := b.validate(); err != nil {
		return fmt.Errorf("second cloud: %w", err)
	}
	if a.Batch != b.Batch {
		return fmt.Errorf("[%d vs %d]: %w", a.Batch, b.Batch, ErrBatchMismatch)
	}
	if a.Dim != b.Dim {
		return fmt.Errorf("[%d vs %d]: %w", a.Dim, b.Dim, ErrDimensionMismatch)
	}
	return nil
}
