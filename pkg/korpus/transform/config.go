package transform

import (
	"fmt"
	"strings"

	"github.com/cognicore/korpus/pkg/korpus/dedup"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// Config controls normalization, filtering and deduplication for a build.
// Every field takes part in the build fingerprint.
type Config struct {
	Lowercase     bool    `json:"lowercase" yaml:"lowercase" toml:"lowercase"`
	MinChars      int     `json:"min_chars" yaml:"min_chars" toml:"min_chars"`
	MaxChars      int     `json:"max_chars" yaml:"max_chars" toml:"max_chars"`
	MinQuality    float64 `json:"min_quality" yaml:"min_quality" toml:"min_quality"`
	DedupExact    bool    `json:"dedup_exact" yaml:"dedup_exact" toml:"dedup_exact"`
	DedupNear     bool    `json:"dedup_near" yaml:"dedup_near" toml:"dedup_near"`
	NearThreshold int     `json:"near_threshold" yaml:"near_threshold" toml:"near_threshold"`
	NearIndex     string  `json:"near_index" yaml:"near_index" toml:"near_index"`
}

// DefaultConfig returns the defaults used when no option is given.
func DefaultConfig() Config {
	return Config{
		Lowercase:     false,
		MinChars:      1,
		MaxChars:      10000,
		MinQuality:    0,
		DedupExact:    true,
		DedupNear:     false,
		NearThreshold: 3,
		NearIndex:     dedup.IndexLinear,
	}
}

// Validate rejects contradictory settings before any record is processed.
func (c Config) Validate() error {
	if c.MinChars < 0 {
		return fmt.Errorf("%w: min_chars must be >= 0, got %d", internalerr.ErrInvalidConfig, c.MinChars)
	}
	if c.MaxChars < 1 {
		return fmt.Errorf("%w: max_chars must be >= 1, got %d", internalerr.ErrInvalidConfig, c.MaxChars)
	}
	if c.MinChars > c.MaxChars {
		return fmt.Errorf("%w: min_chars (%d) > max_chars (%d)", internalerr.ErrInvalidConfig, c.MinChars, c.MaxChars)
	}
	if !(c.MinQuality >= 0 && c.MinQuality <= 1) {
		return fmt.Errorf("%w: min_quality must be in [0,1], got %g", internalerr.ErrInvalidConfig, c.MinQuality)
	}
	if c.NearThreshold < 0 || c.NearThreshold > dedup.MaxThreshold {
		return fmt.Errorf("%w: near_threshold must be in [0,%d], got %d", internalerr.ErrInvalidConfig, dedup.MaxThreshold, c.NearThreshold)
	}
	switch strings.ToLower(c.NearIndex) {
	case "", dedup.IndexLinear, dedup.IndexBanded:
	default:
		return fmt.Errorf("%w: unknown near_index %q", internalerr.ErrInvalidConfig, c.NearIndex)
	}
	return nil
}

// Params returns the config as a manifest parameter map.
func (c Config) Params() map[string]any {
	idx := strings.ToLower(c.NearIndex)
	if idx == "" {
		idx = dedup.IndexLinear
	}
	return map[string]any{
		"lowercase":      c.Lowercase,
		"min_chars":      c.MinChars,
		"max_chars":      c.MaxChars,
		"min_quality":    c.MinQuality,
		"dedup_exact":    c.DedupExact,
		"dedup_near":     c.DedupNear,
		"near_threshold": c.NearThreshold,
		"near_index":     idx,
	}
}

func (c Config) dedupOptions() dedup.Options {
	return dedup.Options{
		Exact:         c.DedupExact,
		Near:          c.DedupNear,
		NearThreshold: c.NearThreshold,
		NearIndex:     c.NearIndex,
	}
}
