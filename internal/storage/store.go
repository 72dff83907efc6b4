package storage

import (
	"errors"
	"fmt"
)

var (
	// DefaultDir is the root directory of the file based storage.
	DefaultDir = "file-storage"
)

const (
	StatsDir = "stats"
	RunsDir  = "runs"
)

var (
	NotFoundErr     = errors.New("not found")
	CouldNotLoadErr = errors.New("could not load")
	InvalidValueErr = errors.New("invalid value")
)

// Shard creates a new storage implementation for the given shard.
type Shard func(shard string) (Persistence, error)

// Key is the storage key for statistics and run records.
type Key struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

func (k Key) Path() string {
	if k.Tag == "" {
		return k.Label
	}
	return fmt.Sprintf("%s_%s", k.Tag, k.Label)
}

type Persistence interface {
	Store(k Key, value interface{}) error
	Load(k Key, value interface{}) error
}
