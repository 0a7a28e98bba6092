// Package ingest turns raw JSONL files into one canonical records file
// plus a manifest. It is lenient: bad lines are counted, never fatal.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/korpus/pkg/korpus/hashing"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
	"github.com/cognicore/korpus/pkg/korpus/record"
	"github.com/cognicore/korpus/pkg/korpus/textnorm"
)

// Options configures one ingest run.
type Options struct {
	DatasetName string
	InputPaths  []string
	OutRoot     string
	SourceName  string
	StripHTML   bool
	// BuildID overrides the computed build id.
	BuildID string
	// Concurrency bounds parallel file validation. Zero uses GOMAXPROCS.
	Concurrency int

	Revision manifest.RevisionProvider
	Now      func() time.Time
	Logger   *slog.Logger
}

// Result describes a finished ingest. Skipped is set when an identical
// ingest already existed and nothing was written.
type Result struct {
	BuildID      string
	OutputDir    string
	RecordsPath  string
	ManifestPath string
	TotalIn      int
	Valid        int
	Invalid      int
	Skipped      bool
	Manifest     *manifest.Manifest
}

// Counts returns the manifest counts.
func (r Result) Counts() map[string]int {
	return map[string]int{"total_in": r.TotalIn, "valid": r.Valid, "invalid": r.Invalid}
}

type input struct {
	path   string
	name   string
	sha256 string
}

type fileResult struct {
	spool   string
	totalIn int
	valid   int
	invalid int
}

// Run ingests every input. All inputs are checked before anything is
// written; a missing input yields ErrNotFound.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := layout.ValidateName(opts.DatasetName); err != nil {
		return nil, fmt.Errorf("dataset name: %w", err)
	}
	if len(opts.InputPaths) == 0 {
		return nil, fmt.Errorf("%w: no input files", internalerr.ErrInvalidInput)
	}
	source := opts.SourceName
	if source == "" {
		source = record.DefaultSource
	}

	inputs, err := resolveInputs(opts.InputPaths)
	if err != nil {
		return nil, err
	}
	if err := hashInputs(ctx, inputs, opts.Concurrency); err != nil {
		return nil, err
	}
	sort.Slice(inputs, func(i, j int) bool {
		if inputs[i].sha256 != inputs[j].sha256 {
			return inputs[i].sha256 < inputs[j].sha256
		}
		return inputs[i].name < inputs[j].name
	})

	params := map[string]any{
		"schema_version": manifest.SchemaVersion,
		"source_name":    source,
		"strip_html":     opts.StripHTML,
	}
	buildID := opts.BuildID
	if buildID == "" {
		buildID, err = manifest.BuildID(fingerprint(opts.DatasetName, inputs, params))
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
		BuildID:      buildID,
		OutputDir:    dir.Path,
		RecordsPath:  dir.File(layout.RecordsFile),
		ManifestPath: dir.File(layout.ManifestFile),
	}
	log := logger.With("dataset", opts.DatasetName, "build_id", buildID)

	if existing, err := existingManifest(res.ManifestPath, opts.BuildID != ""); existing != nil || err != nil {
		if err != nil {
			return nil, err
		}
		res.Skipped = true
		res.Manifest = existing
		res.TotalIn = existing.Counts["total_in"]
		res.Valid = existing.Counts["valid"]
		res.Invalid = existing.Counts["invalid"]
		log.Info("ingest already complete", "manifest", res.ManifestPath)
		return res, nil
	}

	ok := false
	defer func() {
		if !ok {
			dir.Abort()
		}
	}()

	results := make([]fileResult, len(inputs))
	defer func() {
		for _, fr := range results {
			if fr.spool != "" {
				os.Remove(fr.spool)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for i, in := range inputs {
		g.Go(func() error {
			fr, err := validateFile(gctx, dir.Path, in, source, opts.StripHTML, log)
			results[i] = fr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := dir.Create(layout.RecordsFile)
	if err != nil {
		return nil, err
	}
	for _, fr := range results {
		if err := appendFile(out, fr.spool); err != nil {
			out.Abort()
			return nil, err
		}
		res.TotalIn += fr.totalIn
		res.Valid += fr.valid
		res.Invalid += fr.invalid
	}
	if err := out.Commit(); err != nil {
		return nil, err
	}

	files := make([]manifest.InputFile, len(inputs))
	for i, in := range inputs {
		files[i] = manifest.InputFile{Path: in.path, SHA256: in.sha256}
	}
	m := manifest.New(ctx, manifest.Options{
		DatasetName: opts.DatasetName,
		BuildID:     buildID,
		InputFiles:  files,
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

	log.Info("ingest complete",
		"inputs", len(inputs),
		"total_in", res.TotalIn,
		"valid", res.Valid,
		"invalid", res.Invalid,
	)
	return res, nil
}

// fingerprint identifies an ingest by content. File names and paths are
// left out so renaming or moving an input keeps its build id.
func fingerprint(dataset string, inputs []input, params map[string]any) map[string]any {
	files := make([]map[string]string, len(inputs))
	for i, in := range inputs {
		files[i] = map[string]string{"sha256": in.sha256}
	}
	return map[string]any{
		"dataset": dataset,
		"files":   files,
		"params":  params,
	}
}

func resolveInputs(paths []string) ([]input, error) {
	inputs := make([]input, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: input %s", internalerr.ErrNotFound, p)
			}
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: input %s is a directory", internalerr.ErrInvalidInput, p)
		}
		inputs = append(inputs, input{path: abs, name: filepath.Base(abs)})
	}
	return inputs, nil
}

func hashInputs(ctx context.Context, inputs []input, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(concurrency))
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := hashing.File(inputs[i].path)
			if err != nil {
				return err
			}
			inputs[i].sha256 = digest
			return nil
		})
	}
	return g.Wait()
}

// validateFile streams one input into a spool file of canonical records.
func validateFile(ctx context.Context, dir string, in input, source string, stripHTML bool, log *slog.Logger) (fileResult, error) {
	var fr fileResult

	rc, err := record.OpenFile(in.path)
	if err != nil {
		return fr, err
	}
	defer rc.Close()

	spool, err := os.CreateTemp(dir, ".ingest-*.spool")
	if err != nil {
		return fr, fmt.Errorf("create spool: %w", err)
	}
	fr.spool = spool.Name()
	defer spool.Close()

	w := record.NewWriter(spool)
	lr := record.NewLineReader(rc, record.MaxLineBytes)
	line := 0
	for {
		raw, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return fr, err
			}
		}
		if errors.Is(err, record.ErrLineTooLong) {
			fr.totalIn++
			fr.invalid++
			log.Debug("invalid input line", "file", in.name, "line", line, "error", err)
			continue
		}
		if err != nil {
			return fr, fmt.Errorf("read %s line %d: %w", in.path, line, err)
		}
		b := bytes.TrimSpace(raw)
		if len(b) == 0 {
			continue
		}
		fr.totalIn++

		rec, err := parse(b, source, stripHTML)
		if err != nil {
			fr.invalid++
			log.Debug("invalid input line", "file", in.name, "line", line, "error", err)
			continue
		}
		if err := w.Write(rec); err != nil {
			return fr, fmt.Errorf("write spool: %w", err)
		}
		fr.valid++
	}
	if err := w.Flush(); err != nil {
		return fr, fmt.Errorf("write spool: %w", err)
	}
	return fr, spool.Close()
}

func parse(line []byte, source string, stripHTML bool) (record.Record, error) {
	obj, err := record.ParseLine(line)
	if err != nil {
		return record.Record{}, err
	}
	if stripHTML {
		if text, ok := obj["text"].(string); ok {
			obj["text"] = textnorm.StripHTML(text)
		}
	}
	return record.FromRaw(obj, source)
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}

// existingManifest returns the manifest of a completed run, or
// ErrManifestExists when an explicit build id collides with one.
func existingManifest(path string, override bool) (*manifest.Manifest, error) {
	exists, err := layout.Exists(path)
	if err != nil || !exists {
		return nil, err
	}
	if override {
		return nil, fmt.Errorf("%w: %s", internalerr.ErrManifestExists, path)
	}
	return manifest.Read(path)
}

func limit(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
