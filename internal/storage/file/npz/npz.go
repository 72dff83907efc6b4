// Package npz reads and writes numpy compressed archives (.npz),
// so that statistics can be exchanged with numpy.savez_compressed / numpy.load.
package npz

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/drakos74/genmetrics/internal/storage"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

const ext = ".npy"

// Archive is a set of named arrays.
// Vectors are stored as 1-d arrays, any other matrix as a 2-d array.
type Archive map[string]mat.Matrix

// Vector returns the named array as a vector.
func (a Archive) Vector(name string) (*mat.VecDense, error) {
	m, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("array '%s': %w", name, storage.NotFoundErr)
	}
	switch v := m.(type) {
	case *mat.VecDense:
		return v, nil
	default:
		r, c := m.Dims()
		if c != 1 && r != 1 {
			return nil, fmt.Errorf("array '%s' [%d x %d] is not a vector: %w", name, r, c, storage.CouldNotLoadErr)
		}
		n := r * c
		data := make([]float64, 0, n)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data = append(data, m.At(i, j))
			}
		}
		return mat.NewVecDense(n, data), nil
	}
}

// Matrix returns the named array as a dense matrix.
func (a Archive) Matrix(name string) (*mat.Dense, error) {
	m, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("array '%s': %w", name, storage.NotFoundErr)
	}
	return mat.DenseCopyOf(m), nil
}

// Write encodes the archive as a deflate compressed zip of npy files.
func Write(w io.Writer, a Archive) error {
	zw := zip.NewWriter(w)
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name + ext,
			Method: zip.Deflate,
		})
		if err != nil {
			return fmt.Errorf("could not create entry '%s': %w", name, err)
		}
		if err := npyio.Write(f, value(a[name])); err != nil {
			return fmt.Errorf("could not encode array '%s': %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finalise archive: %w", err)
	}
	return nil
}

func value(m mat.Matrix) interface{} {
	if v, ok := m.(mat.Vector); ok {
		data := make([]float64, v.Len())
		for i := range data {
			data[i] = v.AtVec(i)
		}
		return data
	}
	return mat.DenseCopyOf(m)
}

// Read decodes all npy entries of the archive.
func Read(r io.ReaderAt, size int64) (Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("could not open archive: %v: %w", err, storage.CouldNotLoadErr)
	}
	a := make(Archive)
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ext) {
			continue
		}
		name := strings.TrimSuffix(f.Name, ext)
		m, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("could not read array '%s': %w", name, err)
		}
		a[name] = m
	}
	return a, nil
}

func readEntry(f *zip.File) (mat.Matrix, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := npyio.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, storage.CouldNotLoadErr)
	}

	var data []float64
	switch r.Header.Descr.Type {
	case "<f8", "f8", "=f8":
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("%v: %w", err, storage.CouldNotLoadErr)
		}
	case "<f4", "f4", "=f4":
		var f32 []float32
		if err := r.Read(&f32); err != nil {
			return nil, fmt.Errorf("%v: %w", err, storage.CouldNotLoadErr)
		}
		data = make([]float64, len(f32))
		for i, v := range f32 {
			data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype '%s': %w", r.Header.Descr.Type, storage.CouldNotLoadErr)
	}

	shape := r.Header.Descr.Shape
	switch len(shape) {
	case 0:
		// scalar, e.g. the covariance of a single feature
		if len(data) != 1 {
			return nil, fmt.Errorf("scalar with %d values: %w", len(data), storage.CouldNotLoadErr)
		}
		return mat.NewDense(1, 1, data), nil
	case 1:
		if shape[0] == 0 {
			return nil, fmt.Errorf("empty array: %w", storage.CouldNotLoadErr)
		}
		return mat.NewVecDense(shape[0], data), nil
	case 2:
		if shape[0] == 0 || shape[1] == 0 {
			return nil, fmt.Errorf("empty array: %w", storage.CouldNotLoadErr)
		}
		if r.Header.Descr.Fortran {
			// column major
			return mat.DenseCopyOf(mat.NewDense(shape[1], shape[0], data).T()), nil
		}
		return mat.NewDense(shape[0], shape[1], data), nil
	default:
		return nil, fmt.Errorf("unsupported shape %v: %w", shape, storage.CouldNotLoadErr)
	}
}

// Save writes the archive to the given file, creating the parent directories.
func Save(path string, a Archive) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("could not make dir: %s: %w", dir, err)
		}
	}
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("could not write archive '%s': %w", path, err)
	}
	return nil
}

// Open reads the archive stored in the given file.
func Open(path string) (Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open archive '%s': %v: %w", path, err, storage.NotFoundErr)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat archive '%s': %w", path, err)
	}
	a, err := Read(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("archive '%s': %w", path, err)
	}
	return a, nil
}
