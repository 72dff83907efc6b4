package json

import (
	"fmt"
	"path/filepath"

	"github.com/drakos74/genmetrics/internal/storage"
	"github.com/rs/zerolog/log"
)

// BlobStorage stores every key as a json file under [root]/[table]/[shard].
type BlobStorage struct {
	path  string
	table string
	shard string
	debug bool
}

// BlobShard creates json blob storages for the table under the given root.
func BlobShard(root, table string) storage.Shard {
	return func(shard string) (storage.Persistence, error) {
		return NewJsonBlob(table, shard, false).WithRoot(root), nil
	}
}

// NewJsonBlob creates a new json blob storage.
// table has the same schema, shard is a logical split.
func NewJsonBlob(table, shard string, debug bool) *BlobStorage {
	return &BlobStorage{
		table: table,
		shard: shard,
		path:  storage.DefaultDir,
		debug: debug,
	}
}

// WithRoot overrides the root directory of the storage.
func (s *BlobStorage) WithRoot(path string) *BlobStorage {
	s.path = path
	return s
}

func (s BlobStorage) dir() string {
	return filepath.Join(s.path, s.table, s.shard)
}

func (s BlobStorage) Store(k storage.Key, value interface{}) error {
	p := s.dir()
	err := Save(p, fileName(k), value)
	if err == nil && s.debug {
		log.Debug().Str("path", p).Str("file", fileName(k)).Msg("stored json file")
	}
	return err
}

func (s BlobStorage) Load(k storage.Key, value interface{}) error {
	return Load(s.dir(), fileName(k), value)
}

func fileName(k storage.Key) string {
	return fmt.Sprintf("%s.json", k.Path())
}
