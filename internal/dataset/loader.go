package dataset

import (
	"context"
	"fmt"

	"github.com/drakos74/genmetrics/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// Batch is a stacked group of consecutive samples.
type Batch struct {
	Index  int
	Offset int
	Data   *tensor.Tensor
}

// Loader iterates a dataset in order, in batches of a fixed size.
// The last batch is kept even if it is smaller.
type Loader struct {
	ds        Dataset
	batchSize int
	workers   int
}

// NewLoader creates a new loader.
// Samples of one batch are decoded by up to workers goroutines,
// while the next batch is prepared during the consumption of the current one.
func NewLoader(ds Dataset, batchSize, workers int) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		workers:   workers,
	}
}

// Batches returns the number of batches the loader will produce.
func (l *Loader) Batches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Each calls fn for every batch in order.
// It stops at the first error, either from loading or from fn.
func (l *Loader) Each(ctx context.Context, fn func(batch Batch) error) error {
	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan Batch, 1)

	g.Go(func() error {
		defer close(batches)
		for i := 0; i < l.Batches(); i++ {
			b, err := l.load(ctx, i)
			if err != nil {
				return err
			}
			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for b := range batches {
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (l *Loader) load(ctx context.Context, index int) (Batch, error) {
	offset := index * l.batchSize
	end := offset + l.batchSize
	if end > l.ds.Len() {
		end = l.ds.Len()
	}

	samples := make([]*tensor.Tensor, end-offset)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := l.ds.Get(offset + i)
			if err != nil {
				return err
			}
			samples[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	data, err := tensor.Stack(samples...)
	if err != nil {
		return Batch{}, fmt.Errorf("could not stack batch %d: %w", index, err)
	}
	return Batch{
		Index:  index,
		Offset: offset,
		Data:   data,
	}, nil
}
