package fid

import (
	"context"
	"fmt"

	"github.com/drakos74/genmetrics/internal/dataset"
	"github.com/drakos74/genmetrics/internal/extractor"
	"github.com/drakos74/genmetrics/internal/metrics"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Options control how images are fed to the extractor.
type Options struct {
	BatchSize  int
	Workers    int
	TargetSize int
	Normalize  bool
	Verbose    bool
}

func (c Config) options(v Variant) Options {
	return Options{
		BatchSize:  c.BatchSize,
		Workers:    c.Workers,
		TargetSize: c.TargetSize,
		Normalize:  v.Normalize,
		Verbose:    c.Verbose,
	}
}

// Activations runs all the given image files through the extractor
// and returns the pooled activations, one row per file, in input order.
func Activations(ctx context.Context, files []string, ex extractor.Extractor, opts Options) (*mat.Dense, error) {
	ds := dataset.NewImagePaths(files, dataset.Compose(opts.TargetSize, opts.Normalize))
	return activations(ctx, ds, ex, opts)
}

func activations(ctx context.Context, ds dataset.Dataset, ex extractor.Extractor, opts Options) (*mat.Dense, error) {
	n := ds.Len()
	if n == 0 {
		return nil, ErrNoSamples
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = DefaultConfig().BatchSize
	}
	if batchSize > n {
		log.Warn().
			Int("batch-size", batchSize).
			Int("samples", n).
			Msg("batch size is bigger than the data size, setting batch size to data size")
		batchSize = n
	}

	loader := dataset.NewLoader(ds, batchSize, opts.Workers)
	parts := make([]*mat.Dense, 0, loader.Batches())
	err := loader.Each(ctx, func(batch dataset.Batch) error {
		pred, err := ex.Forward(ctx, batch.Data)
		if err != nil {
			return fmt.Errorf("could not run batch %d through extractor: %w", batch.Index, err)
		}
		features, err := pred.Features()
		if err != nil {
			return fmt.Errorf("could not pool batch %d: %w", batch.Index, err)
		}
		parts = append(parts, features)
		metrics.Observer.Images(batch.Data.Dim(0))
		if opts.Verbose {
			log.Info().
				Int("batch", batch.Index+1).
				Int("batches", loader.Batches()).
				Int("samples", batch.Data.Dim(0)).
				Msg("extracted activations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return concat(parts)
}

func concat(parts []*mat.Dense) (*mat.Dense, error) {
	if len(parts) == 0 {
		return nil, ErrNoSamples
	}
	_, d := parts[0].Dims()
	rows := 0
	for i, p := range parts {
		r, c := p.Dims()
		if c != d {
			return nil, fmt.Errorf("batch %d has %d features instead of %d: %w", i, c, d, ErrDimensionMismatch)
		}
		rows += r
	}
	act := mat.NewDense(rows, d, nil)
	offset := 0
	for _, p := range parts {
		r, _ := p.Dims()
		act.Slice(offset, offset+r, 0, d).(*mat.Dense).Copy(p)
		offset += r
	}
	return act, nil
}

// ActivationStatistics computes the mean and covariance of the activations of the given files.
func ActivationStatistics(ctx context.Context, files []string, ex extractor.Extractor, opts Options) (Statistics, error) {
	act, err := Activations(ctx, files, ex, opts)
	if err != nil {
		return Statistics{}, err
	}
	return NewStatistics(act)
}
