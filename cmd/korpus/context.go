package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cognicore/korpus/internal/logging"
	"github.com/cognicore/korpus/pkg/korpus"
	"github.com/cognicore/korpus/pkg/korpus/catalog"
	"github.com/cognicore/korpus/pkg/korpus/catalog/sqlite"
	"github.com/cognicore/korpus/pkg/korpus/config"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
)

const catalogOff = "off"

type globalFlags struct {
	configPath string
	outRoot    string
	catalog    string
	logLevel   string
	logFormat  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *slog.Logger
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.outRoot != "" {
			cfg.OutRoot = c.flags.outRoot
		}
		if c.flags.catalog != "" {
			cfg.Catalog = c.flags.catalog
		}
		if c.flags.logLevel != "" {
			cfg.LogLevel = c.flags.logLevel
		}
		if c.flags.logFormat != "" {
			cfg.LogFormat = c.flags.logFormat
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// init loads configuration and installs the per-invocation logger.
func (c *commandContext) init(cmd *cobra.Command) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	runID := logging.NewRunID()
	logger := logging.Setup(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: cmd.ErrOrStderr(),
	})
	c.logger = logger.With("run_id", runID)
	return nil
}

func (c *commandContext) catalogPath() string {
	cfg := c.config
	switch {
	case cfg.Catalog == catalogOff:
		return ""
	case cfg.Catalog != "":
		return cfg.Catalog
	default:
		return filepath.Join(cfg.OutRoot, "catalog.db")
	}
}

// withKorpus opens the configured catalog and runs fn against a facade.
func (c *commandContext) withKorpus(ctx context.Context, fn func(*korpus.Korpus) error) error {
	var cat catalog.Catalog
	if path := c.catalogPath(); path != "" {
		opened, err := sqlite.OpenSQLite(ctx, path)
		if err != nil {
			return fmt.Errorf("open catalog %s: %w", path, err)
		}
		cat = opened
	}

	k := korpus.New(korpus.Options{
		Catalog:  cat,
		Revision: manifest.GitRevision{},
		Logger:   c.logger,
	})
	defer k.Close()
	return fn(k)
}
