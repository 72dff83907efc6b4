package fid

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Supported variant tags.
const (
	Sketch  = "sketch"
	CAD     = "cad"
	CADv1   = "cad_v1"
	Vanilla = "vanilla"
)

var ErrUnknownVariant = errors.New("unknown fid variant")

// Variant binds a feature extractor checkpoint to the preprocessing it expects.
// Only the checkpoint is configurable, the preprocessing follows the tag.
type Variant struct {
	Tag        string `json:"-" yaml:"-"`
	Checkpoint string `json:"checkpoint" yaml:"checkpoint"`
	Normalize  bool   `json:"-" yaml:"-"`
}

// Config holds the parameters of the fid computations.
type Config struct {
	BatchSize  int                `json:"batch_size" yaml:"batch_size"`
	Workers    int                `json:"workers" yaml:"workers"`
	TargetSize int                `json:"target_size" yaml:"target_size"`
	Epsilon    float64            `json:"epsilon" yaml:"epsilon"`
	Verbose    bool               `json:"verbose" yaml:"verbose"`
	Variants   map[string]Variant `json:"variants" yaml:"variants"`
}

// DefaultConfig returns the default parameters and checkpoints.
func DefaultConfig() Config {
	return Config{
		BatchSize:  50,
		Workers:    1,
		TargetSize: 256,
		Epsilon:    DefaultEpsilon,
		Verbose:    true,
		Variants: map[string]Variant{
			Sketch: {
				Checkpoint: "data/resnet18_sketch",
			},
			CAD: {
				Checkpoint: "data/abc_processed/fid/resnet18_cad.ckpt",
			},
			CADv1: {
				Checkpoint: "data/abc_processed/fid/resnet18_cad_v1.ckpt",
			},
			Vanilla: {
				Checkpoint: "data/inception_v3.ckpt",
			},
		},
	}
}

// normalized reports whether the extractor of the tag was trained on normalised images.
func normalized(tag string) bool {
	return tag == CAD || tag == CADv1
}

func known(tag string) bool {
	switch tag {
	case Sketch, CAD, CADv1, Vanilla:
		return true
	}
	return false
}

// Variant returns the variant registered under the given tag.
func (c Config) Variant(tag string) (Variant, error) {
	v, ok := c.Variants[tag]
	if !ok || !known(tag) {
		return Variant{}, fmt.Errorf("'%s' isn't a valid fid type, expected one of [%s]: %w", tag, strings.Join(c.Tags(), ", "), ErrUnknownVariant)
	}
	v.Tag = tag
	v.Normalize = normalized(tag)
	return v, nil
}

// Tags returns the configured variant tags in order.
func (c Config) Tags() []string {
	tags := make([]string, 0, len(c.Variants))
	for tag := range c.Variants {
		if known(tag) {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// Validate checks the config for values the computation cannot run with.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive but was %d", c.BatchSize)
	}
	if c.TargetSize < 1 {
		return fmt.Errorf("target size must be positive but was %d", c.TargetSize)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive but was %v", c.Epsilon)
	}
	for tag, v := range c.Variants {
		if !known(tag) {
			return fmt.Errorf("variant '%s': %w", tag, ErrUnknownVariant)
		}
		if v.Checkpoint == "" {
			return fmt.Errorf("variant '%s' has no checkpoint", tag)
		}
	}
	return nil
}
