// Package config loads pipeline settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/record"
	"github.com/cognicore/korpus/pkg/korpus/transform"
)

// DefaultOutRoot is where datasets are written when no root is configured.
const DefaultOutRoot = "artifacts/datasets"

// Ingest holds ingest-only settings.
type Ingest struct {
	SourceName  string `yaml:"source_name" toml:"source_name"`
	StripHTML   bool   `yaml:"strip_html" toml:"strip_html"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
}

// Config is the file-level configuration of the korpus tools.
type Config struct {
	OutRoot   string           `yaml:"out_root" toml:"out_root"`
	Catalog   string           `yaml:"catalog" toml:"catalog"`
	LogLevel  string           `yaml:"log_level" toml:"log_level"`
	LogFormat string           `yaml:"log_format" toml:"log_format"`
	Ingest    Ingest           `yaml:"ingest" toml:"ingest"`
	Build     transform.Config `yaml:"build" toml:"build"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutRoot:   DefaultOutRoot,
		LogLevel:  "info",
		LogFormat: "auto",
		Ingest: Ingest{
			SourceName: record.DefaultSource,
		},
		Build: transform.DefaultConfig(),
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
// The format follows the extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config %s", internalerr.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := decode(file, filepath.Ext(path), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config %s: %v", internalerr.ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutRoot) == "" {
		return fmt.Errorf("%w: out_root is required", internalerr.ErrInvalidConfig)
	}
	if c.Ingest.Concurrency < 0 {
		return fmt.Errorf("%w: ingest.concurrency must be >= 0", internalerr.ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("%w: unknown log_format %q", internalerr.ErrInvalidConfig, c.LogFormat)
	}
	return c.Build.Validate()
}
