// Package build applies the transform pipeline to a canonical records file
// and writes the kept records, a per-record decision log and a manifest.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cognicore/korpus/pkg/korpus/hashing"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
	"github.com/cognicore/korpus/pkg/korpus/record"
	"github.com/cognicore/korpus/pkg/korpus/transform"
)

// Options configures one build.
type Options struct {
	DatasetName string
	// InputPath is a canonical records file, usually an ingest output.
	InputPath string
	OutRoot   string
	Config    transform.Config
	// BuildID overrides the computed build id.
	BuildID string

	Revision manifest.RevisionProvider
	Now      func() time.Time
	Logger   *slog.Logger
}

// Result describes a finished build.
type Result struct {
	BuildID          string
	OutputDir        string
	RecordsPath      string
	TransformLogPath string
	ManifestPath     string
	TotalIn          int
	Kept             int
	Dropped          int
	DroppedBy        map[transform.Reason]int
	Skipped          bool
	Manifest         *manifest.Manifest
}

// Counts returns the manifest counts. Every rejection reason is present.
func (r Result) Counts() map[string]int {
	c := map[string]int{"total_in": r.TotalIn, "kept": r.Kept, "dropped": r.Dropped}
	for _, reason := range transform.Rejections() {
		c[reason.CountKey()] = r.DroppedBy[reason]
	}
	return c
}

// LogEvent is one line of the transform log.
type LogEvent struct {
	ID        string           `json:"id"`
	Kept      bool             `json:"kept"`
	Reason    transform.Reason `json:"reason"`
	TextAfter string           `json:"text_after,omitempty"`
}

// Fingerprint returns the object hashed into a build id.
func Fingerprint(dataset, inputSHA256 string, cfg transform.Config) map[string]any {
	return map[string]any{
		"dataset":     dataset,
		"input_files": []map[string]string{{"sha256": inputSHA256}},
		"params":      map[string]any{"transform_config": cfg.Params()},
	}
}

// Run executes one build. Invalid canonical records abort it with
// ErrInvalidInput; nothing but policy rejections is absorbed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := layout.ValidateName(opts.DatasetName); err != nil {
		return nil, fmt.Errorf("dataset name: %w", err)
	}

	pipeline, err := transform.NewPipeline(opts.Config)
	if err != nil {
		return nil, err
	}

	inputPath, err := filepath.Abs(opts.InputPath)
	if err != nil {
		return nil, err
	}
	inputHash, err := hashing.File(inputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: input %s", internalerr.ErrNotFound, opts.InputPath)
		}
		return nil, err
	}

	params := map[string]any{"transform_config": opts.Config.Params()}
	buildID := opts.BuildID
	if buildID == "" {
		buildID, err = manifest.BuildID(Fingerprint(opts.DatasetName, inputHash, opts.Config))
		if err != nil {
			return nil, err
		}
	} else {
		params["build_id_override"] = true
	}

	dir, err := layout.Open(opts.OutRoot, opts.DatasetName, buildID)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	res := &Result{
		BuildID:          buildID,
		OutputDir:        dir.Path,
		RecordsPath:      dir.File(layout.RecordsFile),
		TransformLogPath: dir.File(layout.TransformLogFile),
		ManifestPath:     dir.File(layout.ManifestFile),
		DroppedBy:        make(map[transform.Reason]int),
	}
	log := logger.With("dataset", opts.DatasetName, "build_id", buildID)

	exists, err := layout.Exists(res.ManifestPath)
	if err != nil {
		return nil, err
	}
	if exists {
		if opts.BuildID != "" {
			return nil, fmt.Errorf("%w: %s", internalerr.ErrManifestExists, res.ManifestPath)
		}
		m, err := manifest.Read(res.ManifestPath)
		if err != nil {
			return nil, err
		}
		res.fromManifest(m)
		log.Info("build already complete", "manifest", res.ManifestPath)
		return res, nil
	}

	ok := false
	defer func() {
		if !ok {
			dir.Abort()
		}
	}()

	if err := res.process(ctx, dir, inputPath, pipeline, log); err != nil {
		return nil, err
	}

	m := manifest.New(ctx, manifest.Options{
		DatasetName: opts.DatasetName,
		BuildID:     buildID,
		InputFiles:  []manifest.InputFile{{Path: inputPath, SHA256: inputHash}},
		Params:      params,
		Counts:      res.Counts(),
		Revision:    opts.Revision,
		Now:         opts.Now,
	})
	if err := m.Write(res.ManifestPath); err != nil {
		return nil, err
	}
	res.Manifest = m
	ok = true

	stats := pipeline.DedupStats()
	log.Info("build complete",
		"total_in", res.TotalIn,
		"kept", res.Kept,
		"dropped", res.Dropped,
		"exact_hashes", stats.ExactSeen,
		"fingerprints", stats.Fingerprints,
	)
	return res, nil
}

func (r *Result) process(ctx context.Context, dir *layout.Dir, inputPath string, p *transform.Pipeline, log *slog.Logger) error {
	in, err := record.OpenFile(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	recordsFile, err := dir.Create(layout.RecordsFile)
	if err != nil {
		return err
	}
	logFile, err := dir.Create(layout.TransformLogFile)
	if err != nil {
		return err
	}
	records := record.NewWriter(recordsFile)
	events := record.NewWriter(logFile)

	rd := record.NewReader(in)
	for rd.Next() {
		if rd.Line()%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec := rd.Record()
		r.TotalIn++

		d := p.Decide(rec.ID, rec.Text)
		ev := LogEvent{ID: rec.ID, Kept: d.Kept, Reason: d.Reason}
		if d.Kept {
			r.Kept++
			ev.TextAfter = d.TextAfter
			out := record.Record{ID: rec.ID, Text: d.TextAfter, Source: rec.Source}
			if err := records.Write(out); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		} else {
			r.Dropped++
			r.DroppedBy[d.Reason]++
			logDrop(ctx, log, rec.ID, d)
		}
		if err := events.Write(ev); err != nil {
			return fmt.Errorf("write transform log: %w", err)
		}
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}

	if err := records.Flush(); err != nil {
		return err
	}
	if err := events.Flush(); err != nil {
		return err
	}
	if err := recordsFile.Commit(); err != nil {
		return err
	}
	return logFile.Commit()
}

func (r *Result) fromManifest(m *manifest.Manifest) {
	r.Skipped = true
	r.Manifest = m
	r.TotalIn = m.Counts["total_in"]
	r.Kept = m.Counts["kept"]
	r.Dropped = m.Counts["dropped"]
	for _, reason := range transform.Rejections() {
		if n := m.Counts[reason.CountKey()]; n > 0 {
			r.DroppedBy[reason] = n
		}
	}
}

// logDrop reports why a record was dropped. Record text is never logged.
func logDrop(ctx context.Context, log *slog.Logger, id string, d transform.Decision) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{"id", id, "reason", d.Reason.String()}
	if d.DuplicateOf != "" {
		attrs = append(attrs, "duplicate_of", d.DuplicateOf)
	}
	if d.Quality != nil {
		attrs = append(attrs, "quality", d.Quality.Score, "quality_flags", d.Quality.Flags)
	}
	log.DebugContext(ctx, "record dropped", attrs...)
}
