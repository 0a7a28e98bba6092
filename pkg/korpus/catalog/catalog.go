// Package catalog records completed ingests and builds so they can be
// listed without walking the output tree.
package catalog

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/korpus/pkg/korpus/manifest"
)

// Kind distinguishes ingest outputs from build outputs.
type Kind string

const (
	KindIngest Kind = "ingest"
	KindBuild  Kind = "build"
)

// Entry is one catalogued build directory.
type Entry struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Dataset    string         `json:"dataset"`
	BuildID    string         `json:"build_id"`
	Dir        string         `json:"dir"`
	CreatedUTC string         `json:"created_utc"`
	GitCommit  string         `json:"git_commit"`
	Counts     map[string]int `json:"counts"`
	Params     map[string]any `json:"params"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Catalog persists entries keyed by (dataset, build id).
type Catalog interface {
	Close() error

	// Record inserts or refreshes an entry. The first ID assigned to a
	// (dataset, build id) pair is kept.
	Record(ctx context.Context, e Entry) error
	// Get returns the entry for a build.
	Get(ctx context.Context, dataset, buildID string) (Entry, bool, error)
	// List returns entries in recording order. An empty dataset lists all.
	List(ctx context.Context, dataset string) ([]Entry, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered identifier.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// KindOf infers whether m describes an ingest or a build.
func KindOf(m *manifest.Manifest) Kind {
	if _, ok := m.Params["transform_config"]; ok {
		return KindBuild
	}
	return KindIngest
}

// EntryFromManifest builds an entry for the build directory dir.
func EntryFromManifest(m *manifest.Manifest, dir string, now time.Time) Entry {
	return Entry{
		ID:         NewID(now),
		Kind:       KindOf(m),
		Dataset:    m.DatasetName,
		BuildID:    m.BuildID,
		Dir:        dir,
		CreatedUTC: m.CreatedUTC,
		GitCommit:  m.GitCommit,
		Counts:     m.Counts,
		Params:     m.Params,
		RecordedAt: now.UTC(),
	}
}
