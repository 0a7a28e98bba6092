package korpus

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cognicore/korpus/internal/logging"
	"github.com/cognicore/korpus/pkg/korpus/build"
	"github.com/cognicore/korpus/pkg/korpus/catalog"
	"github.com/cognicore/korpus/pkg/korpus/export"
	"github.com/cognicore/korpus/pkg/korpus/ingest"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
)

// Korpus ties the pipeline stages to shared provenance settings and an
// optional catalog of finished outputs.
type Korpus struct {
	catalog  catalog.Catalog
	revision manifest.RevisionProvider
	now      func() time.Time
	logger   *slog.Logger
}

// Options configures a Korpus instance
type Options struct {
	// Catalog is optional; when set every finished ingest and build is recorded.
	Catalog  catalog.Catalog
	Revision manifest.RevisionProvider
	Now      func() time.Time
	Logger   *slog.Logger
}

// New creates a Korpus instance with the given dependencies
func New(opts Options) *Korpus {
	k := &Korpus{
		catalog:  opts.Catalog,
		revision: opts.Revision,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if k.now == nil {
		k.now = time.Now
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	return k
}

// Close releases the catalog
func (k *Korpus) Close() error {
	if k.catalog == nil {
		return nil
	}
	return k.catalog.Close()
}

// Ingest runs the ingest stage and catalogs its output
func (k *Korpus) Ingest(ctx context.Context, opts ingest.Options) (*ingest.Result, error) {
	if opts.Revision == nil {
		opts.Revision = k.revision
	}
	if opts.Now == nil {
		opts.Now = k.now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component(k.logger, "ingest")
	}

	res, err := ingest.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	k.record(ctx, res.Manifest, res.OutputDir)
	return res, nil
}

// Build runs the build stage and catalogs its output
func (k *Korpus) Build(ctx context.Context, opts build.Options) (*build.Result, error) {
	if opts.Revision == nil {
		opts.Revision = k.revision
	}
	if opts.Now == nil {
		opts.Now = k.now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component(k.logger, "build")
	}

	res, err := build.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	k.record(ctx, res.Manifest, res.OutputDir)
	return res, nil
}

// Export writes the records of a build directory to a parquet file. An
// empty dst places it next to the build directory as <build_id>.parquet.
func (k *Korpus) Export(ctx context.Context, buildDir, dst string) (*export.Result, error) {
	if dst == "" {
		dst = filepath.Clean(buildDir) + ".parquet"
	}
	res, err := export.ToParquet(ctx, filepath.Join(buildDir, layout.RecordsFile), dst)
	if err != nil {
		return nil, err
	}
	logging.Component(k.logger, "export").Info("export complete", "path", res.Path, "rows", res.Rows)
	return res, nil
}

// Verify reloads the manifest of a build directory and rehashes its inputs
func (k *Korpus) Verify(ctx context.Context, buildDir string) (*manifest.Manifest, []manifest.Mismatch, error) {
	m, err := manifest.Read(filepath.Join(buildDir, layout.ManifestFile))
	if err != nil {
		return nil, nil, err
	}
	mismatches, err := manifest.Verify(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return m, mismatches, nil
}

// List returns catalogued outputs. Without a catalog it returns nothing.
func (k *Korpus) List(ctx context.Context, dataset string) ([]catalog.Entry, error) {
	if k.catalog == nil {
		return nil, nil
	}
	return k.catalog.List(ctx, dataset)
}

// record stores a catalog entry. Catalog failures never fail a finished
// stage; the manifest on disk stays authoritative.
func (k *Korpus) record(ctx context.Context, m *manifest.Manifest, dir string) {
	if k.catalog == nil || m == nil {
		return
	}
	entry := catalog.EntryFromManifest(m, dir, k.now())
	if err := k.catalog.Record(ctx, entry); err != nil {
		logging.Component(k.logger, "catalog").Warn("catalog record failed",
			"dataset", m.DatasetName,
			"build_id", m.BuildID,
			"error", err,
		)
	}
}
