package fid

import (
	"fmt"

	"github.com/drakos74/genmetrics/internal/storage"
	"github.com/drakos74/genmetrics/internal/storage/file/npz"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	muKey    = "mu"
	sigmaKey = "sigma"
)

// Statistics summarises a distribution of activations
// by its mean and covariance.
type Statistics struct {
	Mu    []float64
	Sigma *mat.SymDense
}

// Dims returns the dimension of the mean vector.
func (s Statistics) Dims() int {
	return len(s.Mu)
}

// NewStatistics reduces an N x D activation matrix to its sample mean
// and its unbiased sample covariance (divisor N-1) over the D features.
func NewStatistics(act mat.Matrix) (Statistics, error) {
	n, d := act.Dims()
	if n == 0 || d == 0 {
		return Statistics{}, fmt.Errorf("activations [%d x %d]: %w", n, d, ErrNoSamples)
	}
	if n == 1 {
		log.Warn().Int("dims", d).Msg("covariance of a single sample is undefined")
	}

	mu := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, act)
		mu[j] = stat.Mean(col, nil)
	}

	var sigma mat.SymDense
	stat.CovarianceMatrix(&sigma, act, nil)

	return Statistics{
		Mu:    mu,
		Sigma: &sigma,
	}, nil
}

// Archive converts the statistics to an archive with the arrays 'mu' and 'sigma'.
func (s Statistics) Archive() npz.Archive {
	mu := make([]float64, len(s.Mu))
	copy(mu, s.Mu)
	return npz.Archive{
		muKey:    mat.NewVecDense(len(mu), mu),
		sigmaKey: s.Sigma,
	}
}

// FromArchive reads the statistics from the arrays 'mu' and 'sigma' of the archive.
func FromArchive(a npz.Archive) (Statistics, error) {
	mu, err := a.Vector(muKey)
	if err != nil {
		return Statistics{}, err
	}
	sigma, err := a.Matrix(sigmaKey)
	if err != nil {
		return Statistics{}, err
	}
	r, c := sigma.Dims()
	if r != c {
		return Statistics{}, fmt.Errorf("sigma is not square [%d x %d]: %w", r, c, ErrDimensionMismatch)
	}
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = sigma.At(i, j)
		}
	}
	m := make([]float64, mu.Len())
	for i := range m {
		m[i] = mu.AtVec(i)
	}
	return Statistics{
		Mu:    m,
		Sigma: mat.NewSymDense(r, data),
	}, nil
}

// LoadStatistics reads the statistics stored in the given archive file.
func LoadStatistics(path string) (Statistics, error) {
	a, err := npz.Open(path)
	if err != nil {
		return Statistics{}, err
	}
	s, err := FromArchive(a)
	if err != nil {
		return Statistics{}, fmt.Errorf("invalid statistics in '%s': %w", path, err)
	}
	return s, nil
}

// SaveStatistics writes the statistics to the given archive file.
func SaveStatistics(path string, s Statistics) error {
	return npz.Save(path, s.Archive())
}

// StoreStatistics keeps the statistics as an archive under the given key.
func StoreStatistics(p storage.Persistence, k storage.Key, s Statistics) error {
	if err := p.Store(k, s.Archive()); err != nil {
		return fmt.Errorf("could not store statistics '%s': %w", k.Path(), err)
	}
	return nil
}

// LoadStoredStatistics reads the statistics kept under the given key.
func LoadStoredStatistics(p storage.Persistence, k storage.Key) (Statistics, error) {
	var a npz.Archive
	if err := p.Load(k, &a); err != nil {
		return Statistics{}, err
	}
	s, err := FromArchive(a)
	if err != nil {
		return Statistics{}, fmt.Errorf("invalid statistics '%s': %w", k.Path(), err)
	}
	return s, nil
}
