// Package layout owns the on-disk build directory contract:
// <out_root>/<dataset>/<build_id>/{records.jsonl, transform_log.jsonl, manifest.json}.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// File names inside a build directory.
const (
	RecordsFile      = "records.jsonl"
	TransformLogFile = "transform_log.jsonl"
	ManifestFile     = "manifest.json"
)

// BuildDir returns the directory of one build.
func BuildDir(outRoot, dataset, buildID string) string {
	return filepath.Join(outRoot, dataset, buildID)
}

// LockPath returns the advisory lock file guarding a build directory. It
// lives next to the build directory so the directory holds only outputs.
func LockPath(outRoot, dataset, buildID string) string {
	return filepath.Join(outRoot, dataset, "."+buildID+".lock")
}

// Exists reports whether path exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Dir is a locked build directory. Files created through it are written
// atomically and removed again by Abort.
type Dir struct {
	Path      string
	lock      *flock.Flock
	committed []string
	pending   []*AtomicFile
}

// Open creates the build directory and takes its lock. A lock held by
// another process yields ErrBuildLocked.
func Open(outRoot, dataset, buildID string) (*Dir, error) {
	if err := ValidateName(dataset); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if err := ValidateName(buildID); err != nil {
		return nil, fmt.Errorf("build id: %w", err)
	}

	datasetDir := filepath.Join(outRoot, dataset)
	if err := os.MkdirAll(datasetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", datasetDir, err)
	}

	lock := flock.New(LockPath(outRoot, dataset, buildID))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", internalerr.ErrBuildLocked, BuildDir(outRoot, dataset, buildID))
	}

	path := BuildDir(outRoot, dataset, buildID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create directory %s: %w", path, err)
	}

	return &Dir{Path: path, lock: lock}, nil
}

// ValidateName rejects names that would escape the output root.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", internalerr.ErrInvalidConfig)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid name %q", internalerr.ErrInvalidConfig, name)
	}
	return nil
}

// File returns the path of name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// Create starts an atomic write of name.
func (d *Dir) Create(name string) (*AtomicFile, error) {
	f, err := CreateAtomic(d.File(name))
	if err != nil {
		return nil, err
	}
	f.onCommit = func(path string) { d.committed = append(d.committed, path) }
	d.pending = append(d.pending, f)
	return f, nil
}

// Abort discards every file written through d, committed or not, and
// removes the directory if it is left empty.
func (d *Dir) Abort() {
	for _, f := range d.pending {
		f.Abort()
	}
	for _, path := range d.committed {
		_ = os.Remove(path)
	}
	d.pending, d.committed = nil, nil
	_ = os.Remove(d.Path) // fails unless empty
}

// Close releases the directory lock.
func (d *Dir) Close() error {
	if d.lock == nil {
		return nil
	}
	err := d.lock.Unlock()
	d.lock = nil
	return err
}

// AtomicFile is written to a temporary sibling and renamed into place.
type AtomicFile struct {
	*os.File
	path     string
	done     bool
	onCommit func(string)
}

// CreateAtomic opens a temporary file next to path.
func CreateAtomic(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	return &AtomicFile{File: f, path: path}, nil
}

// Target returns the final path.
func (f *AtomicFile) Target() string { return f.path }

// Commit flushes the file and renames it over its target.
func (f *AtomicFile) Commit() error {
	if f.done {
		return fmt.Errorf("%s already finished", f.path)
	}
	f.done = true

	tmp := f.Name()
	if err := f.Sync(); err != nil {
		f.File.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.File.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, f.path, err)
	}
	if f.onCommit != nil {
		f.onCommit(f.path)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (f *AtomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.File.Close()
	os.Remove(f.Name())
}

// WriteFile writes data to path atomically, replacing any existing file.
func WriteFile(path string, data []byte) error {
	f, err := CreateAtomic(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Commit()
}
