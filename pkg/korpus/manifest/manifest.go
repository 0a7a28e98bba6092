// Package manifest writes and verifies the write-once lineage record of
// an ingest or build.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cognicore/korpus/pkg/korpus/hashing"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/layout"
)

// SchemaVersion is the manifest and record schema version.
const SchemaVersion = "v1"

// buildIDLen is the number of hex characters in a build id.
const buildIDLen = 12

// UnknownRevision is recorded when no source revision is available.
const UnknownRevision = "unknown"

// InputFile is one input and the digest of its bytes as stored.
type InputFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest binds a build id to its inputs, parameters and counts.
type Manifest struct {
	SchemaVersion string         `json:"schema_version"`
	DatasetName   string         `json:"dataset_name"`
	BuildID       string         `json:"build_id"`
	CreatedUTC    string         `json:"created_utc"`
	GitCommit     string         `json:"git_commit"`
	InputFiles    []InputFile    `json:"input_files"`
	Params        map[string]any `json:"params"`
	Counts        map[string]int `json:"counts"`
}

// BuildID hashes the canonical JSON form of fingerprint and keeps the first
// 12 hex characters. Equal fingerprints always give equal ids.
func BuildID(fingerprint any) (string, error) {
	digest, err := hashing.Canonical(fingerprint)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashing.Short(digest, buildIDLen), nil
}

// Options describes a manifest to create.
type Options struct {
	DatasetName string
	BuildID     string
	InputFiles  []InputFile
	Params      map[string]any
	Counts      map[string]int

	// Revision supplies git_commit. Nil records "unknown".
	Revision RevisionProvider
	// Now stamps created_utc. Nil uses time.Now.
	Now func() time.Time
}

// New assembles a manifest. Revision lookup is best effort.
func New(ctx context.Context, opts Options) *Manifest {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	rev := UnknownRevision
	if opts.Revision != nil {
		if r, err := opts.Revision.Revision(ctx); err == nil && r != "" {
			rev = r
		}
	}

	inputs := opts.InputFiles
	if inputs == nil {
		inputs = []InputFile{}
	}
	params := opts.Params
	if params == nil {
		params = map[string]any{}
	}
	counts := opts.Counts
	if counts == nil {
		counts = map[string]int{}
	}

	return &Manifest{
		SchemaVersion: SchemaVersion,
		DatasetName:   opts.DatasetName,
		BuildID:       opts.BuildID,
		CreatedUTC:    now().UTC().Format(time.RFC3339Nano),
		GitCommit:     rev,
		InputFiles:    inputs,
		Params:        params,
		Counts:        counts,
	}
}

// Marshal renders m as sorted-key JSON indented by two spaces.
func (m *Manifest) Marshal() ([]byte, error) {
	compact, err := hashing.CanonicalJSON(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Write stores m at path through a temp file and rename. An existing
// manifest is never replaced.
func (m *Manifest) Write(path string) error {
	exists, err := layout.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", internalerr.ErrManifestExists, path)
	}

	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return layout.WriteFile(path, data)
}

// Read loads a manifest file.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", internalerr.ErrNotFound, path)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", internalerr.ErrInvalidInput, path, err)
	}
	return &m, nil
}

// Mismatch describes an input whose current state differs from the manifest.
type Mismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Verify rehashes every input file listed in m and returns the ones that
// no longer match. A nil result means the lineage still holds.
func Verify(ctx context.Context, m *Manifest) ([]Mismatch, error) {
	var out []Mismatch
	for _, in := range m.InputFiles {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		actual, err := hashing.File(in.Path)
		if err != nil {
			out = append(out, Mismatch{Path: in.Path, Expected: in.SHA256, Err: err.Error()})
			continue
		}
		if actual != in.SHA256 {
			out = append(out, Mismatch{Path: in.Path, Expected: in.SHA256, Actual: actual})
		}
	}
	return out, nil
}
