package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// MaxLineBytes bounds a single JSONL line.
const MaxLineBytes = 16 << 20

// ErrNotObject marks a line that is valid JSON but not an object.
var ErrNotObject = errors.New("line is not a JSON object")

// ErrLineTooLong marks a line longer than the LineReader limit.
var ErrLineTooLong = errors.New("line too long")

// LineReader yields input lines one at a time. A line over the limit is
// consumed and reported as ErrLineTooLong; reading continues after it.
type LineReader struct {
	br    *bufio.Reader
	limit int
	buf   []byte
}

// NewLineReader wraps r. A limit of zero or less means MaxLineBytes.
func NewLineReader(r io.Reader, limit int) *LineReader {
	if limit <= 0 {
		limit = MaxLineBytes
	}
	return &LineReader{br: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// Next returns the next line without its line terminator. The slice is only
// valid until the following call. The end of input is io.EOF.
func (l *LineReader) Next() ([]byte, error) {
	l.buf = l.buf[:0]
	read, tooLong := false, false
	for {
		chunk, err := l.br.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		if !tooLong {
			l.buf = append(l.buf, chunk...)
			if len(bytes.TrimRight(l.buf, "\r\n")) > l.limit {
				tooLong = true
				l.buf = l.buf[:0]
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil && !errors.Is(err, io.EOF):
			return nil, err
		case err != nil && !read:
			return nil, io.EOF
		case tooLong:
			return nil, ErrLineTooLong
		}
		return bytes.TrimRight(l.buf, "\r\n"), nil
	}
}

// NewScanner returns a line scanner sized for MaxLineBytes.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return sc
}

// ParseLine decodes one raw input line into a JSON object.
func ParseLine(line []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrInvalidInput, ErrNotObject)
	}
	return obj, nil
}

// Reader streams canonical records from a JSONL file. It is strict: any
// line that does not decode into a valid Record is an error.
type Reader struct {
	sc   *bufio.Scanner
	line int
	rec  Record
	err  error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{sc: NewScanner(r)}
}

// Next advances to the next record. Blank lines are skipped.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			r.err = fmt.Errorf("line %d: %w: %v", r.line, internalerr.ErrInvalidInput, err)
			return false
		}
		if err := rec.Validate(); err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		r.rec = rec
		return true
	}
	if err := r.sc.Err(); err != nil {
		r.err = fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return false
}

// Record returns the record read by the last successful Next.
func (r *Reader) Record() Record { return r.rec }

// Line returns the 1-based line number of the current record.
func (r *Reader) Line() int { return r.line }

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// ReadAll loads every record from r.
func ReadAll(r io.Reader) ([]Record, error) {
	var out []Record
	rd := NewReader(r)
	for rd.Next() {
		out = append(out, rd.Record())
	}
	return out, rd.Err()
}

// Writer encodes values as one JSON document per line.
type Writer struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w. Call Flush before closing the underlying writer.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{bw: bw, enc: enc}
}

// Write appends v as a single line.
func (w *Writer) Write(v any) error {
	return w.enc.Encode(v)
}

// Flush writes buffered lines through.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
