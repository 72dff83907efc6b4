package fid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drakos74/genmetrics/internal/extractor"
	"github.com/drakos74/genmetrics/internal/storage"
	"github.com/drakos74/genmetrics/internal/storage/file/npz"
	"github.com/drakos74/genmetrics/internal/tensor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// writeImages creates n small images with a pattern that depends on the seed and the index.
func writeImages(t *testing.T, n int, seed uint8) []string {
	dir := t.TempDir()
	files := make([]string, n)
	for k := 0; k < n; k++ {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.Set(x, y, color.RGBA{
					R: uint8(x*31) + seed*uint8(k),
					G: uint8(y*17) + uint8(k*13),
					B: uint8((x+y)*7) ^ seed,
					A: 255,
				})
			}
		}
		p := filepath.Join(dir, fmt.Sprintf("%03d.png", k))
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		files[k] = p
	}
	return files
}

func network(t *testing.T) *extractor.Pointwise {
	p, err := extractor.New(extractor.Checkpoint{
		Layers: []extractor.Layer{
			{
				Weights: [][]float64{
					{1, 0.5, -0.2},
					{-0.3, 1, 0.4},
					{0.2, -0.1, 1},
					{0.6, 0.6, 0.6},
				},
				Bias: []float64{0.1, 0, 0.2, -0.1},
			},
			{
				Weights: [][]float64{
					{1, 0.2, 0, 0.1},
					{0, 1, 0.3, -0.2},
					{0.5, 0, 1, 0},
				},
				Bias: []float64{0, 0.05, 0},
			},
		},
		Pool: 2,
	})
	require.NoError(t, err)
	return p
}

// counting is a dataset of [1, 1, 1] samples holding their index.
type counting int

func (c counting) Len() int {
	return int(c)
}

func (c counting) Get(i int) (*tensor.Tensor, error) {
	return tensor.FromData([]float64{float64(i)}, 1, 1, 1)
}

// identity returns the batch as its own feature map and tracks the batch sizes.
type identity struct {
	sizes []int
}

func (id *identity) Forward(ctx context.Context, batch *tensor.Tensor) (*tensor.Tensor, error) {
	id.sizes = append(id.sizes, batch.Dim(0))
	return batch, nil
}

func TestActivations_Batching(t *testing.T) {

	type test struct {
		samples   int
		batchSize int
		sizes     []int
	}

	tests := map[string]test{
		"remainder": {
			samples:   7,
			batchSize: 3,
			sizes:     []int{3, 3, 1},
		},
		"clamped": {
			samples:   4,
			batchSize: 50,
			sizes:     []int{4},
		},
		"default": {
			samples:   60,
			batchSize: 0,
			sizes:     []int{50, 10},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ex := new(identity)
			act, err := activations(context.Background(), counting(tt.samples), ex, Options{
				BatchSize: tt.batchSize,
				Workers:   2,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.sizes, ex.sizes)
			r, c := act.Dims()
			assert.Equal(t, tt.samples, r)
			assert.Equal(t, 1, c)
			for i := 0; i < r; i++ {
				assert.Equal(t, float64(i), act.At(i, 0))
			}
		})
	}

	_, err := activations(context.Background(), counting(0), new(identity), Options{})
	assert.True(t, errors.Is(err, ErrNoSamples))
}

func TestActivations_Progress(t *testing.T) {
	defer func(logger zerolog.Logger, level zerolog.Level) {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	}(log.Logger, zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	for _, verbose := range []bool{true, false} {
		var buf bytes.Buffer
		log.Logger = zerolog.New(&buf)
		_, err := activations(context.Background(), counting(5), new(identity), Options{
			BatchSize: 2,
			Verbose:   verbose,
		})
		require.NoError(t, err)
		lines := strings.Count(buf.String(), "extracted activations")
		if verbose {
			assert.Equal(t, 3, lines)
		} else {
			assert.Equal(t, 0, lines)
		}
	}
}

func TestActivationStatistics_Deterministic(t *testing.T) {
	files := writeImages(t, 9, 3)
	ex := network(t)
	opts := Options{
		BatchSize:  4,
		Workers:    3,
		TargetSize: 8,
		Normalize:  true,
	}

	s1, err := ActivationStatistics(context.Background(), files, ex, opts)
	require.NoError(t, err)
	s2, err := ActivationStatistics(context.Background(), files, ex, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, s1.Dims())
	assert.Equal(t, s1.Mu, s2.Mu)
	assert.True(t, mat.Equal(s1.Sigma, s2.Sigma))

	// the batch layout does not change the activations
	opts.BatchSize = 9
	opts.Workers = 1
	s3, err := ActivationStatistics(context.Background(), files, ex, opts)
	require.NoError(t, err)
	assert.Equal(t, s1.Mu, s3.Mu)
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.Workers = 2
	cfg.TargetSize = 8
	return cfg
}

func TestCalculator_UnknownVariant(t *testing.T) {
	loads := 0
	c := NewCalculator(testConfig(t)).WithLoader(func(v Variant) (extractor.Extractor, error) {
		loads++
		return network(t), nil
	})

	files := writeImages(t, 2, 1)
	_, err := c.GivenPaths(context.Background(), "imagenet", files, files)
	assert.True(t, errors.Is(err, ErrUnknownVariant))
	_, err = c.GivenStatsAndPaths(context.Background(), "", "missing.npz", files)
	assert.True(t, errors.Is(err, ErrUnknownVariant))
	err = c.SaveStats(context.Background(), "resnet", files, filepath.Join(t.TempDir(), "out.npz"))
	assert.True(t, errors.Is(err, ErrUnknownVariant))
	assert.Equal(t, 0, loads)
}

func TestCalculator(t *testing.T) {
	variants := make([]Variant, 0)
	runs := storage.NewMockStorage()
	c := NewCalculator(testConfig(t)).
		WithLoader(func(v Variant) (extractor.Extractor, error) {
			variants = append(variants, v)
			return network(t), nil
		}).
		WithRuns(runs)

	realFiles := writeImages(t, 10, 1)
	fakeFiles := writeImages(t, 7, 5)
	ctx := context.Background()

	same, err := c.GivenPaths(ctx, CAD, realFiles, realFiles)
	require.NoError(t, err)
	assert.InDelta(t, 0, same, 1e-6)

	fid, err := c.GivenPaths(ctx, CAD, realFiles, fakeFiles)
	require.NoError(t, err)
	assert.Greater(t, fid, 0.0)

	output := filepath.Join(t.TempDir(), "real.npz")
	require.NoError(t, c.SaveStats(ctx, CAD, realFiles, output))

	cached, err := c.GivenStatsAndPaths(ctx, CAD, output, fakeFiles)
	require.NoError(t, err)
	assert.InDelta(t, fid, cached, 1e-9)

	for _, v := range variants {
		assert.Equal(t, CAD, v.Tag)
		assert.True(t, v.Normalize)
	}
	assert.Len(t, runs.Elements, 4)
	for k, v := range runs.Elements {
		assert.Equal(t, CAD, k.Tag)
		record := v.(*Record)
		assert.NotEmpty(t, record.ID)
		if record.Kind == GivenStatsKind {
			assert.Equal(t, cached, record.FID)
			assert.Equal(t, output, record.Source)
		}
	}

	_, err = c.GivenStatsAndPaths(ctx, CAD, filepath.Join(t.TempDir(), "missing.npz"), fakeFiles)
	assert.True(t, errors.Is(err, storage.NotFoundErr))
}

func TestCalculator_LoaderError(t *testing.T) {
	broken := errors.New("broken checkpoint")
	c := NewCalculator(testConfig(t)).WithLoader(func(v Variant) (extractor.Extractor, error) {
		return nil, broken
	})
	files := writeImages(t, 2, 1)
	_, err := c.GivenPaths(context.Background(), Sketch, files, files)
	assert.True(t, errors.Is(err, broken))
}

func TestCalculator_Checkpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Variants[Vanilla] = Variant{Checkpoint: filepath.Join(dir, "missing.json")}

	files := writeImages(t, 2, 1)
	_, err := NewCalculator(cfg).GivenPaths(context.Background(), Vanilla, files, files)
	assert.True(t, errors.Is(err, storage.NotFoundErr))
}

func TestCalculator_StoredStats(t *testing.T) {
	c := NewCalculator(testConfig(t)).WithLoader(func(v Variant) (extractor.Extractor, error) {
		return network(t), nil
	})
	realFiles := writeImages(t, 8, 2)
	fakeFiles := writeImages(t, 6, 9)
	ctx := context.Background()

	fid, err := c.GivenPaths(ctx, Sketch, realFiles, fakeFiles)
	require.NoError(t, err)

	stats := npz.NewBlob(t.TempDir(), storage.StatsDir)
	k := storage.Key{Tag: Sketch, Label: "real"}
	require.NoError(t, c.StoreStats(ctx, Sketch, realFiles, stats, k))
	assert.FileExists(t, stats.File(k))

	stored, err := c.GivenStoredStatsAndPaths(ctx, Sketch, stats, k, fakeFiles)
	require.NoError(t, err)
	assert.InDelta(t, fid, stored, 1e-9)

	_, err = c.GivenStoredStatsAndPaths(ctx, Sketch, stats, storage.Key{Tag: Sketch, Label: "missing"}, fakeFiles)
	assert.True(t, errors.Is(err, storage.NotFoundErr))
	err = c.StoreStats(ctx, "imagenet", realFiles, stats, k)
	assert.True(t, errors.Is(err, ErrUnknownVariant))
}
