// Package record defines the canonical {id, text, source} record and the
// validation applied to raw input objects.
package record

import (
	"fmt"
	"strings"

	"github.com/cognicore/korpus/pkg/korpus/hashing"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// DefaultSource labels records whose origin was not named.
const DefaultSource = "unknown"

// derivedIDLen is the number of hex characters used for content-derived ids.
const derivedIDLen = 16

// Record is one canonical corpus entry.
type Record struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// DeriveID returns the fallback identifier for text that arrived without one.
// Identical text always receives the same id.
func DeriveID(text string) string {
	return hashing.Short(hashing.Text(text), derivedIDLen)
}

// FromRaw validates a decoded JSON object and turns it into a Record.
// The object is valid iff "text" is a string that is non-empty after
// trimming. A missing, blank or non-string "id" is replaced by DeriveID.
func FromRaw(obj map[string]any, source string) (Record, error) {
	if obj == nil {
		return Record{}, fmt.Errorf("%w: not a JSON object", internalerr.ErrInvalidInput)
	}

	raw, ok := obj["text"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing text", internalerr.ErrInvalidInput)
	}
	text, ok := raw.(string)
	if !ok {
		return Record{}, fmt.Errorf("%w: text is %T, want string", internalerr.ErrInvalidInput, raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, fmt.Errorf("%w: empty text", internalerr.ErrInvalidInput)
	}

	id, _ := obj["id"].(string)
	if strings.TrimSpace(id) == "" {
		id = DeriveID(text)
	}

	if source == "" {
		source = DefaultSource
	}

	return Record{ID: id, Text: text, Source: source}, nil
}

// Validate checks a canonical record read back from a records file.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is required", internalerr.ErrInvalidInput)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: record %s has empty text", internalerr.ErrInvalidInput, r.ID)
	}
	return nil
}
