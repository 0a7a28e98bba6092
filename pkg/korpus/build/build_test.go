package build

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
	"github.com/cognicore/korpus/pkg/korpus/record"
	"github.com/cognicore/korpus/pkg/korpus/transform"
)

func writeRecords(t *testing.T, dir string, recs ...record.Record) string {
	t.Helper()
	path := filepath.Join(dir, "records.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := record.NewWriter(f)
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func options(root, input string, cfg transform.Config) Options {
	return Options{
		DatasetName: "toy",
		InputPath:   input,
		OutRoot:     root,
		Config:      cfg,
		Revision:    manifest.StaticRevision("rev"),
		Now:         func() time.Time { return time.Unix(0, 0) },
	}
}

func readEvents(t *testing.T, path string) []LogEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []LogEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev LogEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestRunExactDedup(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir,
		record.Record{ID: "1", Text: "Hello   world", Source: "s"},
		record.Record{ID: "2", Text: "Hello world", Source: "s"},
	)

	res, err := Run(context.Background(), options(filepath.Join(dir, "out"), in, transform.DefaultConfig()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Kept != 1 || res.Dropped != 1 || res.DroppedBy[transform.ReasonDuplicateExact] != 1 {
		t.Errorf("unexpected counts %+v", res.Counts())
	}

	f, _ := os.Open(res.RecordsPath)
	recs, err := record.ReadAll(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "1" || recs[0].Text != "Hello world" {
		t.Errorf("unexpected output %+v", recs)
	}

	events := readEvents(t, res.TransformLogPath)
	if len(events) != 2 {
		t.Fatalf("Expected an event per record, got %d", len(events))
	}
	if !events[0].Kept || events[0].TextAfter != "Hello world" {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].Kept || events[1].Reason != transform.ReasonDuplicateExact || events[1].TextAfter != "" {
		t.Errorf("unexpected second event %+v", events[1])
	}
}

func TestRunCountsInvariant(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir,
		record.Record{ID: "1", Text: "hey", Source: "s"},
		record.Record{ID: "2", Text: "This is a normal sentence with varied tokens.", Source: "s"},
		record.Record{ID: "3", Text: "hello hello hello hello hello hello", Source: "s"},
		record.Record{ID: "4", Text: "This is a normal sentence with varied tokens.", Source: "s"},
		record.Record{ID: "5", Text: "this is a normal sentence with varied tokens!", Source: "s"},
		record.Record{ID: "6", Text: "an extremely long record that exceeds the maximum", Source: "s"},
	)

	cfg := transform.DefaultConfig()
	cfg.MinChars = 5
	cfg.MaxChars = 46
	cfg.MinQuality = 0.7
	cfg.DedupNear = true

	res, err := Run(context.Background(), options(filepath.Join(dir, "out"), in, cfg))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]int{
		"total_in":                 6,
		"kept":                     1,
		"dropped":                  5,
		"dropped_too_short":        1,
		"dropped_too_long":         1,
		"dropped_empty_after_norm": 0,
		"dropped_low_quality":      1,
		"dropped_duplicate_exact":  1,
		"dropped_duplicate_near":   1,
	}
	m, err := manifest.Read(res.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range want {
		got, ok := m.Counts[k]
		if !ok || got != v {
			t.Errorf("counts[%s] = %d (present=%v), want %d", k, got, ok, v)
		}
	}
	if m.Counts["total_in"] != m.Counts["kept"]+m.Counts["dropped"] {
		t.Error("total_in must equal kept + dropped")
	}

	events := readEvents(t, res.TransformLogPath)
	if len(events) != 6 {
		t.Errorf("Expected 6 events, got %d", len(events))
	}
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir,
		record.Record{ID: "1", Text: "first record", Source: "s"},
		record.Record{ID: "2", Text: "second record", Source: "s"},
	)
	cfg := transform.DefaultConfig()

	a, err := Run(context.Background(), options(filepath.Join(dir, "a"), in, cfg))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run(context.Background(), options(filepath.Join(dir, "b"), in, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if a.BuildID != b.BuildID {
		t.Errorf("build ids differ: %s vs %s", a.BuildID, b.BuildID)
	}
	ra, _ := os.ReadFile(a.RecordsPath)
	rb, _ := os.ReadFile(b.RecordsPath)
	if !bytes.Equal(ra, rb) {
		t.Error("records are not byte-identical")
	}

	again, err := Run(context.Background(), options(filepath.Join(dir, "a"), in, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped || again.Kept != a.Kept {
		t.Errorf("Expected skipped rerun with same counts, got %+v", again)
	}

	cfg.Lowercase = true
	c, err := Run(context.Background(), options(filepath.Join(dir, "a"), in, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if c.BuildID == a.BuildID {
		t.Error("config change must change the build id")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, record.Record{ID: "1", Text: "x", Source: "s"})
	cfg := transform.DefaultConfig()
	cfg.MinChars = 10
	cfg.MaxChars = 5

	root := filepath.Join(dir, "out")
	if _, err := Run(context.Background(), options(root, in, cfg)); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("no output expected for invalid config")
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), options(dir, filepath.Join(dir, "nope.jsonl"), transform.DefaultConfig()))
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStrictOnInvalidRecord(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "records.jsonl")
	os.WriteFile(in, []byte(`{"id":"1","text":"fine","source":"s"}`+"\n"+`{"id":"","text":"no id"}`+"\n"), 0o644)

	cfg := transform.DefaultConfig()
	root := filepath.Join(dir, "out")
	_, err := Run(context.Background(), options(root, in, cfg))
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(root, "toy", "*", "*"))
	if len(files) != 0 {
		t.Errorf("Expected partial outputs removed, found %v", files)
	}
}

func TestRunBuildIDOverride(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, record.Record{ID: "1", Text: "text", Source: "s"})
	opts := options(filepath.Join(dir, "out"), in, transform.DefaultConfig())
	opts.BuildID = "custom"

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputDir != layout.BuildDir(opts.OutRoot, "toy", "custom") {
		t.Errorf("unexpected output dir %s", res.OutputDir)
	}
	if res.Manifest.Params["build_id_override"] != true {
		t.Error("Expected build_id_override recorded")
	}
	if _, err := Run(context.Background(), opts); !errors.Is(err, internalerr.ErrManifestExists) {
		t.Errorf("Expected ErrManifestExists, got %v", err)
	}
}

func TestRunLockedBuild(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, record.Record{ID: "1", Text: "text", Source: "s"})
	opts := options(filepath.Join(dir, "out"), in, transform.DefaultConfig())
	opts.BuildID = "held"

	held, err := layout.Open(opts.OutRoot, "toy", "held")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	if _, err := Run(context.Background(), opts); !errors.Is(err, internalerr.ErrBuildLocked) {
		t.Errorf("Expected ErrBuildLocked, got %v", err)
	}
}

func TestRunLogsDropDetails(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir,
		record.Record{ID: "1", Text: "Hello world", Source: "s"},
		record.Record{ID: "2", Text: "Hello world", Source: "s"},
		record.Record{ID: "3", Text: "spam spam spam spam spam spam", Source: "s"},
	)
	cfg := transform.DefaultConfig()
	cfg.MinQuality = 0.7

	var buf bytes.Buffer
	opts := options(filepath.Join(dir, "out"), in, cfg)
	opts.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	drops := map[string]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if entry["msg"] == "record dropped" {
			drops[entry["id"].(string)] = entry
		}
	}

	if len(drops) != 2 {
		t.Fatalf("Expected 2 drop entries, got %d: %s", len(drops), buf.String())
	}
	if got := drops["2"]["duplicate_of"]; got != "1" {
		t.Errorf("Expected duplicate_of 1, got %v", got)
	}
	if drops["2"]["reason"] != "duplicate_exact" {
		t.Errorf("unexpected reason %v", drops["2"]["reason"])
	}
	score, ok := drops["3"]["quality"].(float64)
	if !ok || score >= 0.7 {
		t.Errorf("Expected quality below 0.7, got %v", drops["3"]["quality"])
	}
	if strings.Contains(buf.String(), "spam") {
		t.Error("record text must not be logged")
	}
}
