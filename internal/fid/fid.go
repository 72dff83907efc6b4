// Package fid computes the Fréchet distance between the feature activation
// distributions of two image sets.
package fid

import (
	"context"
	"fmt"
	"time"

	"github.com/drakos74/genmetrics/internal/extractor"
	"github.com/drakos74/genmetrics/internal/metrics"
	"github.com/drakos74/genmetrics/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	GivenPathsKind      = "given_paths"
	GivenStatsKind      = "given_stats"
	SaveStatsKind       = "save_stats"
	recordLabelTemplate = "%s_%s"
)

// Loader creates the extractor of a variant.
type Loader func(v Variant) (extractor.Extractor, error)

// LoadCheckpoint loads the extractor from the variant checkpoint.
func LoadCheckpoint(v Variant) (extractor.Extractor, error) {
	return extractor.Load(v.Checkpoint)
}

// Record is the persisted outcome of a computation.
type Record struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Tag      string        `json:"tag"`
	Samples  []int         `json:"samples"`
	Source   string        `json:"source,omitempty"`
	FID      float64       `json:"fid,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Calculator runs the fid computations for the configured variants.
type Calculator struct {
	config Config
	load   Loader
	runs   storage.Persistence
}

// NewCalculator creates a new calculator that loads extractors from their checkpoints
// and does not keep records of its runs.
func NewCalculator(config Config) *Calculator {
	return &Calculator{
		config: config,
		load:   LoadCheckpoint,
		runs:   storage.NewVoidStorage(),
	}
}

// WithLoader overrides how extractors are created.
func (c *Calculator) WithLoader(load Loader) *Calculator {
	c.load = load
	return c
}

// WithRuns keeps a record of each computation in the given storage.
func (c *Calculator) WithRuns(runs storage.Persistence) *Calculator {
	c.runs = runs
	return c
}

// model resolves the variant before loading anything.
func (c *Calculator) model(tag string) (extractor.Extractor, Options, error) {
	v, err := c.config.Variant(tag)
	if err != nil {
		return nil, Options{}, err
	}
	ex, err := c.load(v)
	if err != nil {
		return nil, Options{}, fmt.Errorf("could not load extractor for '%s': %w", tag, err)
	}
	return ex, c.config.options(v), nil
}

// GivenPaths computes the fid between two sets of image files.
func (c *Calculator) GivenPaths(ctx context.Context, tag string, paths1, paths2 []string) (fid float64, err error) {
	record := c.record(GivenPathsKind, tag, len(paths1), len(paths2))
	defer func() { c.finish(record, fid, err) }()

	ex, opts, err := c.model(tag)
	if err != nil {
		return 0, err
	}
	s1, err := ActivationStatistics(ctx, paths1, ex, opts)
	if err != nil {
		return 0, fmt.Errorf("could not compute statistics of first set: %w", err)
	}
	s2, err := ActivationStatistics(ctx, paths2, ex, opts)
	if err != nil {
		return 0, fmt.Errorf("could not compute statistics of second set: %w", err)
	}
	return FrechetDistanceEps(s1, s2, c.config.Epsilon)
}

// GivenStatsAndPaths computes the fid between the statistics stored in the archive
// and a set of image files.
func (c *Calculator) GivenStatsAndPaths(ctx context.Context, tag string, archive string, paths []string) (fid float64, err error) {
	record := c.record(GivenStatsKind, tag, len(paths))
	record.Source = archive
	defer func() { c.finish(record, fid, err) }()

	return c.givenStats(ctx, tag, func() (Statistics, error) {
		return LoadStatistics(archive)
	}, paths)
}

// GivenStoredStatsAndPaths computes the fid between the statistics kept under the key
// and a set of image files.
func (c *Calculator) GivenStoredStatsAndPaths(ctx context.Context, tag string, stats storage.Persistence, k storage.Key, paths []string) (fid float64, err error) {
	record := c.record(GivenStatsKind, tag, len(paths))
	record.Source = k.Path()
	defer func() { c.finish(record, fid, err) }()

	return c.givenStats(ctx, tag, func() (Statistics, error) {
		return LoadStoredStatistics(stats, k)
	}, paths)
}

func (c *Calculator) givenStats(ctx context.Context, tag string, load func() (Statistics, error), paths []string) (float64, error) {
	ex, opts, err := c.model(tag)
	if err != nil {
		return 0, err
	}
	s1, err := load()
	if err != nil {
		return 0, err
	}
	opts.Verbose = false
	s2, err := ActivationStatistics(ctx, paths, ex, opts)
	if err != nil {
		return 0, err
	}
	return FrechetDistanceEps(s1, s2, c.config.Epsilon)
}

// SaveStats computes the statistics of a set of image files and stores them in the output archive.
func (c *Calculator) SaveStats(ctx context.Context, tag string, paths []string, output string) (err error) {
	record := c.record(SaveStatsKind, tag, len(paths))
	record.Source = output
	defer func() { c.finish(record, 0, err) }()

	s, err := c.statistics(ctx, tag, paths)
	if err != nil {
		return err
	}
	log.Info().Str("output", output).Int("dims", s.Dims()).Msg("saving fid stats")
	return SaveStatistics(output, s)
}

// StoreStats computes the statistics of a set of image files and keeps them under the key.
func (c *Calculator) StoreStats(ctx context.Context, tag string, paths []string, stats storage.Persistence, k storage.Key) (err error) {
	record := c.record(SaveStatsKind, tag, len(paths))
	record.Source = k.Path()
	defer func() { c.finish(record, 0, err) }()

	s, err := c.statistics(ctx, tag, paths)
	if err != nil {
		return err
	}
	log.Info().Str("key", k.Path()).Int("dims", s.Dims()).Msg("storing fid stats")
	return StoreStatistics(stats, k, s)
}

func (c *Calculator) statistics(ctx context.Context, tag string, paths []string) (Statistics, error) {
	ex, opts, err := c.model(tag)
	if err != nil {
		return Statistics{}, err
	}
	return ActivationStatistics(ctx, paths, ex, opts)
}

func (c *Calculator) record(kind, tag string, samples ...int) *Record {
	return &Record{
		ID:      uuid.New().String(),
		Kind:    kind,
		Tag:     tag,
		Samples: samples,
		Start:   time.Now(),
	}
}

func (c *Calculator) finish(r *Record, fid float64, err error) {
	metrics.Observer.Computation(r.Kind, r.Start, err)
	r.Duration = time.Since(r.Start)
	if err != nil {
		log.Error().Err(err).Str("id", r.ID).Str("kind", r.Kind).Str("tag", r.Tag).Msg("fid computation failed")
		return
	}
	r.FID = fid
	log.Info().
		Str("id", r.ID).
		Str("kind", r.Kind).
		Str("tag", r.Tag).
		Ints("samples", r.Samples).
		Float64("fid", fid).
		Dur("duration", r.Duration).
		Msg("fid computation done")
	k := storage.Key{Tag: r.Tag, Label: fmt.Sprintf(recordLabelTemplate, r.Kind, r.ID)}
	if err := c.runs.Store(k, r); err != nil {
		log.Warn().Err(err).Str("id", r.ID).Msg("could not store run record")
	}
}
