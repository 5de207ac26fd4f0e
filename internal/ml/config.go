package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string
}

// LoadConfig loads backend configuration from a JSON file. The explicit path
// is tried first, then config/<name>.json. A missing file is not an error;
// callers fall back to environment variables. A file that exists but does
// not parse is.
func (c *BaseConfig) LoadConfig(name string, config any, log zerolog.Logger) error {
	candidates := []string{filepath.Join("config", name+".json")}
	if c.ConfigPath != "" {
		candidates = append([]string{c.ConfigPath}, candidates...)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s config: %w", name, err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s config %s: %w", name, path, err)
		}
		log.Info().Str("path", path).Msgf("Loaded %s configuration from file", name)
		return nil
	}

	log.Debug().Msgf("Using environment variables for %s configuration", name)
	return nil
}
