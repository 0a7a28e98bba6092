package transform

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"min zero", func(c *Config) { c.MinChars = 0 }, false},
		{"negative min", func(c *Config) { c.MinChars = -1 }, true},
		{"zero max", func(c *Config) { c.MaxChars = 0 }, true},
		{"min above max", func(c *Config) { c.MinChars = 20; c.MaxChars = 10 }, true},
		{"quality above one", func(c *Config) { c.MinQuality = 1.5 }, true},
		{"negative quality", func(c *Config) { c.MinQuality = -0.1 }, true},
		{"NaN quality", func(c *Config) { c.MinQuality = math.NaN() }, true},
		{"threshold above 64", func(c *Config) { c.NearThreshold = 65 }, true},
		{"negative threshold", func(c *Config) { c.NearThreshold = -1 }, true},
		{"banded index", func(c *Config) { c.NearIndex = "banded" }, false},
		{"unknown index", func(c *Config) { c.NearIndex = "minhash" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewPipelineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChars = 50
	cfg.MaxChars = 5
	if _, err := NewPipeline(cfg); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestTextReasons(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		mutate func(*Config)
		want   Reason
	}{
		{"kept", "Hello world", func(c *Config) {}, ReasonKept},
		{"too short", "hey", func(c *Config) { c.MinChars = 5 }, ReasonTooShort},
		{"too long", "abcdef", func(c *Config) { c.MaxChars = 5 }, ReasonTooLong},
		{"length in runes", "héllo", func(c *Config) { c.MaxChars = 5 }, ReasonKept},
		{"empty with zero min", "  \x00 ", func(c *Config) { c.MinChars = 0 }, ReasonEmptyAfterNorm},
		{"blank is too short by default", "   ", func(c *Config) {}, ReasonTooShort},
		{"low quality", "hello hello hello hello hello hello", func(c *Config) { c.MinQuality = 0.7 }, ReasonLowQuality},
		{"quality disabled", "hello hello hello hello hello hello", func(c *Config) {}, ReasonKept},
		{"good quality", "This is a normal sentence with varied tokens.", func(c *Config) { c.MinQuality = 0.7 }, ReasonKept},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			d := Text(tt.text, cfg)
			if d.Reason != tt.want {
				t.Errorf("Expected reason %s, got %s", tt.want, d.Reason)
			}
			if d.Kept != (tt.want == ReasonKept) {
				t.Errorf("Kept = %v inconsistent with reason %s", d.Kept, d.Reason)
			}
			if !d.Kept && d.TextAfter != "" {
				t.Errorf("Expected no text_after on rejection, got %q", d.TextAfter)
			}
			if d.TextBefore != tt.text {
				t.Errorf("TextBefore = %q, want %q", d.TextBefore, tt.text)
			}
		})
	}
}

func TestTextNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lowercase = true
	d := Text("  Hello\x00   WORLD \n", cfg)
	if d.TextAfter != "hello world" {
		t.Errorf("Expected \"hello world\", got %q", d.TextAfter)
	}
}

func TestDecideExactDedup(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	first := p.Decide("1", "Hello   world")
	second := p.Decide("2", "Hello world")

	if !first.Kept {
		t.Errorf("Expected first record kept, got %s", first.Reason)
	}
	if second.Kept || second.Reason != ReasonDuplicateExact {
		t.Errorf("Expected duplicate_exact, got %s", second.Reason)
	}
	if second.DuplicateOf != "1" {
		t.Errorf("Expected duplicate of 1, got %q", second.DuplicateOf)
	}
}

func TestDecideDedupDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupExact = false
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Decide("1", "same")
	if d := p.Decide("2", "same"); !d.Kept {
		t.Errorf("Expected kept with dedup off, got %s", d.Reason)
	}
}

func TestDecideNearDedup(t *testing.T) {
	for _, index := range []string{"linear", "banded"} {
		t.Run(index, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DedupNear = true
			cfg.NearThreshold = 8
			cfg.NearIndex = index
			p, err := NewPipeline(cfg)
			if err != nil {
				t.Fatal(err)
			}

			got := []Reason{
				p.Decide("a", "Hello world this is a test").Reason,
				p.Decide("b", "hello world this was a test").Reason,
				p.Decide("c", "The quick brown fox jumps over the lazy dog").Reason,
				p.Decide("d", "Hello world this is a test").Reason,
			}
			want := []Reason{ReasonKept, ReasonDuplicateNear, ReasonKept, ReasonDuplicateExact}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("record %d: Expected %s, got %s", i, want[i], got[i])
				}
			}
			if st := p.DedupStats(); st.Fingerprints != 2 {
				t.Errorf("Expected 2 fingerprints, got %d", st.Fingerprints)
			}
		})
	}
}

func TestRejectedRecordsDoNotEnterDedupState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinQuality = 0.7
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Decide("1", "x x x x x x")
	if st := p.DedupStats(); st.ExactSeen != 0 {
		t.Errorf("Expected empty exact set, got %d", st.ExactSeen)
	}
}

func TestReasonText(t *testing.T) {
	for _, r := range Reasons() {
		b, err := r.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", int(r), err)
		}
		var back Reason
		if err := back.UnmarshalText(b); err != nil || back != r {
			t.Errorf("round trip of %s failed: %v %v", r, back, err)
		}
	}

	b, err := json.Marshal(struct {
		Reason Reason `json:"reason"`
	}{ReasonDuplicateNear})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"reason":"duplicate_near"}` {
		t.Errorf("unexpected JSON %s", b)
	}

	if _, err := ParseReason("nope"); err == nil {
		t.Error("Expected error for unknown reason")
	}
	if _, err := Reason(99).MarshalText(); err == nil {
		t.Error("Expected error for out-of-range reason")
	}
}

func TestRejections(t *testing.T) {
	rej := Rejections()
	if len(rej) != len(Reasons())-1 {
		t.Fatalf("Expected %d rejections, got %d", len(Reasons())-1, len(rej))
	}
	for _, r := range rej {
		if r == ReasonKept {
			t.Error("Rejections must not include kept")
		}
		if !strings.HasPrefix(r.CountKey(), "dropped_") {
			t.Errorf("unexpected count key %s", r.CountKey())
		}
	}
}

func TestParamsCoversEveryField(t *testing.T) {
	params := DefaultConfig().Params()
	raw, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for k := range fields {
		if _, ok := params[k]; !ok {
			t.Errorf("Params missing %s", k)
		}
	}
	if len(params) != len(fields) {
		t.Errorf("Params has %d keys, config has %d", len(params), len(fields))
	}
}
