// Package dataset reads image files into tensors and groups them in batches.
package dataset

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// decoders
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/drakos74/genmetrics/internal/tensor"
)

// Extensions are the image file extensions picked up from a directory.
var Extensions = []string{"bmp", "jpg", "jpeg", "png", "tif", "tiff", "webp"}

var NoImagesErr = errors.New("no images")

// Dataset is an indexed collection of samples.
type Dataset interface {
	Len() int
	Get(i int) (*tensor.Tensor, error)
}

// Files lists the image files of the given directory in lexical order.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read dir '%s': %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("dir '%s': %w", dir, NoImagesErr)
	}
	sort.Strings(files)
	return files, nil
}

func isImage(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ImagePaths is a dataset over image files.
type ImagePaths struct {
	files     []string
	transform Transform
}

// NewImagePaths creates a dataset over the given files.
// A nil transform only converts the images to tensors.
func NewImagePaths(files []string, transform Transform) *ImagePaths {
	if transform == nil {
		transform = ToTensor
	}
	return &ImagePaths{
		files:     files,
		transform: transform,
	}
}

func (d *ImagePaths) Len() int {
	return len(d.files)
}

// Get decodes and transforms the i-th image.
func (d *ImagePaths) Get(i int) (*tensor.Tensor, error) {
	path := d.files[i]
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open image '%s': %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode image '%s': %w", path, err)
	}
	t, err := d.transform(img)
	if err != nil {
		return nil, fmt.Errorf("could not transform image '%s': %w", path, err)
	}
	return t, nil
}
