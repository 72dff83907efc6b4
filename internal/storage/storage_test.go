package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Path(t *testing.T) {
	assert.Equal(t, "cad_real", Key{Tag: "cad", Label: "real"}.Path())
	assert.Equal(t, "real", Key{Label: "real"}.Path())
}

func TestMockStorage(t *testing.T) {
	s := NewMockStorage()

	k := Key{Tag: "sketch", Label: "run"}
	require.NoError(t, s.Store(k, []float64{1, 2}))

	var v []float64
	require.NoError(t, s.Load(k, &v))
	assert.Equal(t, []float64{1, 2}, v)

	var wrong string
	assert.True(t, errors.Is(s.Load(k, &wrong), CouldNotLoadErr))
	assert.True(t, errors.Is(s.Load(Key{Label: "other"}, &v), NotFoundErr))
	assert.True(t, errors.Is(s.Load(k, v), InvalidValueErr))
}

func TestVoidStorage(t *testing.T) {
	s := NewVoidStorage()
	k := Key{Label: "x"}
	assert.NoError(t, s.Store(k, 1))
	var v int
	assert.True(t, errors.Is(s.Load(k, &v), NotFoundErr))
}
