package record

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

func TestFromRaw(t *testing.T) {
	tests := []struct {
		name    string
		obj     map[string]any
		wantID  string
		wantTxt string
		wantErr bool
	}{
		{"explicit id", map[string]any{"id": "a1", "text": " hi there "}, "a1", "hi there", false},
		{"missing id", map[string]any{"text": "hello"}, DeriveID("hello"), "hello", false},
		{"empty id", map[string]any{"id": "", "text": "hello"}, DeriveID("hello"), "hello", false},
		{"blank id", map[string]any{"id": "  ", "text": "hello"}, DeriveID("hello"), "hello", false},
		{"numeric id", map[string]any{"id": 42.0, "text": "hello"}, DeriveID("hello"), "hello", false},
		{"missing text", map[string]any{"id": "x"}, "", "", true},
		{"blank text", map[string]any{"text": "   \n"}, "", "", true},
		{"non-string text", map[string]any{"text": 12.0}, "", "", true},
		{"nil object", nil, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := FromRaw(tt.obj, "src")
			if tt.wantErr {
				if !errors.Is(err, internalerr.ErrInvalidInput) {
					t.Fatalf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.ID != tt.wantID {
				t.Errorf("Expected id %q, got %q", tt.wantID, rec.ID)
			}
			if rec.Text != tt.wantTxt {
				t.Errorf("Expected text %q, got %q", tt.wantTxt, rec.Text)
			}
			if rec.Source != "src" {
				t.Errorf("Expected source src, got %q", rec.Source)
			}
		})
	}
}

func TestDeriveIDUsesTrimmedText(t *testing.T) {
	a, _ := FromRaw(map[string]any{"text": "  same text "}, "")
	b, _ := FromRaw(map[string]any{"text": "same text"}, "")
	if a.ID != b.ID {
		t.Errorf("Expected identical derived ids, got %s and %s", a.ID, b.ID)
	}
	if len(a.ID) != 16 {
		t.Errorf("Expected 16-char id, got %d", len(a.ID))
	}
	if a.Source != DefaultSource {
		t.Errorf("Expected default source, got %q", a.Source)
	}
}

func TestParseLine(t *testing.T) {
	if _, err := ParseLine([]byte(`{"text":"ok"}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseLine([]byte(`{"text":`)); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for malformed JSON, got %v", err)
	}
	if _, err := ParseLine([]byte(`["a"]`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("Expected ErrNotObject for array, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := (Record{ID: "a", Text: "x"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Record{Text: "x"}).Validate(); err == nil {
		t.Error("Expected error for missing id")
	}
	if err := (Record{ID: "a", Text: " "}).Validate(); err == nil {
		t.Error("Expected error for blank text")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	in := []Record{
		{ID: "1", Text: "a <b> & c", Source: "s"},
		{ID: "2", Text: "second", Source: "s"},
	}
	for _, r := range in {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "a <b> & c") {
		t.Errorf("Expected unescaped HTML characters, got %s", buf.String())
	}

	out, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestReaderStrict(t *testing.T) {
	input := "{\"id\":\"1\",\"text\":\"ok\",\"source\":\"s\"}\n\n{\"id\":\"2\",\"text\":\"\"}\n"
	rd := NewReader(strings.NewReader(input))

	if !rd.Next() {
		t.Fatalf("Expected first record, err=%v", rd.Err())
	}
	if rd.Next() {
		t.Fatal("Expected failure on invalid record")
	}
	if !errors.Is(rd.Err(), internalerr.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", rd.Err())
	}
	if !strings.Contains(rd.Err().Error(), "line 3") {
		t.Errorf("Expected line number in error, got %v", rd.Err())
	}
}

func TestLineReaderSkipsLongLines(t *testing.T) {
	long := strings.Repeat("x", 100_000)
	input := "ok\r\n" + long + "\n\nlast " + long[:10] + "\n" + long
	lr := NewLineReader(strings.NewReader(input), 70_000)

	type step struct {
		line string
		err  error
	}
	want := []step{
		{"ok", nil},
		{"", ErrLineTooLong},
		{"", nil},
		{"last xxxxxxxxxx", nil},
		{"", ErrLineTooLong},
	}
	for i, w := range want {
		got, err := lr.Next()
		if !errors.Is(err, w.err) {
			t.Fatalf("line %d: expected error %v, got %v", i+1, w.err, err)
		}
		if string(got) != w.line {
			t.Fatalf("line %d: expected %q, got %q", i+1, w.line, got)
		}
	}
	if _, err := lr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestLineReaderLastLineWithoutNewline(t *testing.T) {
	lr := NewLineReader(strings.NewReader("a\nb"), 0)
	for _, want := range []string{"a", "b"} {
		got, err := lr.Next()
		if err != nil || string(got) != want {
			t.Fatalf("Expected %q, got %q (%v)", want, got, err)
		}
	}
	if _, err := lr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
