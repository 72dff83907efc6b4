package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const path = "infra/config"

// Load reads the config file into v, decoding yaml or json depending on the extension.
func Load(file string, v interface{}) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("could not load config '%s': %w", file, err)
	}

	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, v)
	case ".json":
		err = json.Unmarshal(b, v)
	default:
		return fmt.Errorf("unsupported config format '%s' for '%s'", ext, file)
	}
	if err != nil {
		return fmt.Errorf("could not unmarshal config '%s': %w", file, err)
	}

	log.Info().Str("file", file).Msg("loaded config")
	return nil
}

// File is the default config file for the given key.
func File(key string) string {
	return filepath.Join(path, fmt.Sprintf("%s.json", key))
}
