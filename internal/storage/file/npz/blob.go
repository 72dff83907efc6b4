package npz

import (
	"fmt"
	"path/filepath"

	"github.com/drakos74/genmetrics/internal/storage"
)

// BlobStorage keeps one archive per key under [root]/[table].
// It only accepts Archive values.
type BlobStorage struct {
	path  string
	table string
}

// NewBlob creates a blob storage for the table under the given root.
func NewBlob(root, table string) *BlobStorage {
	if root == "" {
		root = storage.DefaultDir
	}
	return &BlobStorage{
		path:  root,
		table: table,
	}
}

// File returns the archive file for the given key.
func (s BlobStorage) File(k storage.Key) string {
	return filepath.Join(s.path, s.table, fmt.Sprintf("%s.npz", k.Path()))
}

func (s BlobStorage) Store(k storage.Key, value interface{}) error {
	var a Archive
	switch v := value.(type) {
	case Archive:
		a = v
	case *Archive:
		a = *v
	default:
		return fmt.Errorf("expected an archive but got %T: %w", value, storage.InvalidValueErr)
	}
	return Save(s.File(k), a)
}

func (s BlobStorage) Load(k storage.Key, value interface{}) error {
	ptr, ok := value.(*Archive)
	if !ok {
		return fmt.Errorf("expected an archive reference but got %T: %w", value, storage.InvalidValueErr)
	}
	a, err := Open(s.File(k))
	if err != nil {
		return err
	}
	*ptr = a
	return nil
}
