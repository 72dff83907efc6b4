package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type variant struct {
	Checkpoint string `json:"checkpoint" yaml:"checkpoint"`
	Normalize  bool   `json:"normalize" yaml:"normalize"`
}

type settings struct {
	BatchSize int                `json:"batch_size" yaml:"batch_size"`
	Epsilon   float64            `json:"epsilon" yaml:"epsilon"`
	Variants  map[string]variant `json:"variants" yaml:"variants"`
}

func TestLoad(t *testing.T) {

	type test struct {
		file    string
		content string
		err     bool
	}

	tests := map[string]test{
		"json": {
			file:    "fid.json",
			content: `{"batch_size": 8, "epsilon": 0.001, "variants": {"cad": {"checkpoint": "cad.json", "normalize": true}}}`,
		},
		"yaml": {
			file: "fid.yaml",
			content: `
batch_size: 8
epsilon: 0.001
variants:
  cad:
    checkpoint: cad.json
    normalize: true
`,
		},
		"unsupported": {
			file:    "fid.toml",
			content: `batch_size = 8`,
			err:     true,
		},
		"malformed": {
			file:    "fid.json",
			content: `{"batch_size": `,
			err:     true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(p, []byte(tt.content), 0644))

			var s settings
			err := Load(p, &s)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, settings{
				BatchSize: 8,
				Epsilon:   0.001,
				Variants: map[string]variant{
					"cad": {Checkpoint: "cad.json", Normalize: true},
				},
			}, s)
		})
	}

	var s settings
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.json"), &s))
}

func TestFile(t *testing.T) {
	var s settings
	// relative to the module root
	require.NoError(t, Load(filepath.Join("..", "..", File("fid")), &s))
	assert.Equal(t, 50, s.BatchSize)
	assert.Len(t, s.Variants, 4)
	assert.True(t, s.Variants["cad"].Normalize)
}
