package dedup

import (
	"fmt"
	"strings"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// MaxThreshold is the largest meaningful Hamming distance for 64-bit fingerprints.
const MaxThreshold = 64

// Index kinds.
const (
	IndexLinear = "linear"
	IndexBanded = "banded"
)

// NearIndex holds the fingerprints accepted so far in acceptance order.
type NearIndex interface {
	// Match returns the id of the earliest accepted fingerprint within the
	// threshold of fp.
	Match(fp Fingerprint) (id string, ok bool)
	// Add appends an accepted fingerprint.
	Add(fp Fingerprint, id string)
	// Len reports how many fingerprints have been accepted.
	Len() int
}

type entry struct {
	fp Fingerprint
	id string
}

// NewIndex builds the index named by kind. An empty kind selects the linear scan.
func NewIndex(kind string, threshold int) (NearIndex, error) {
	if threshold < 0 || threshold > MaxThreshold {
		return nil, fmt.Errorf("%w: near threshold %d out of range [0,%d]", internalerr.ErrInvalidConfig, threshold, MaxThreshold)
	}
	switch strings.ToLower(kind) {
	case "", IndexLinear:
		return NewLinearIndex(threshold), nil
	case IndexBanded:
		return NewBandedIndex(threshold), nil
	default:
		return nil, fmt.Errorf("%w: unknown near index %q", internalerr.ErrInvalidConfig, kind)
	}
}

// LinearIndex compares every new fingerprint against all accepted ones in
// order. Cost is O(n) per record and O(n^2) per build.
type LinearIndex struct {
	threshold int
	entries   []entry
}

// NewLinearIndex returns an empty linear index.
func NewLinearIndex(threshold int) *LinearIndex {
	return &LinearIndex{threshold: threshold}
}

func (l *LinearIndex) Match(fp Fingerprint) (string, bool) {
	for _, e := range l.entries {
		if Hamming(fp, e.fp) <= l.threshold {
			return e.id, true
		}
	}
	return "", false
}

func (l *LinearIndex) Add(fp Fingerprint, id string) {
	l.entries = append(l.entries, entry{fp: fp, id: id})
}

func (l *LinearIndex) Len() int { return len(l.entries) }

// BandedIndex splits fingerprints into threshold+1 disjoint bit bands. Two
// fingerprints within the threshold must agree on at least one whole band,
// so only candidates sharing a band are compared. Candidates are checked in
// acceptance order, which keeps verdicts identical to LinearIndex.
type BandedIndex struct {
	threshold int
	bands     []band
	entries   []entry
	// buckets[b] maps a band value to entry positions in ascending order.
	buckets []map[uint64][]int
	linear  *LinearIndex
}

type band struct {
	shift uint
	mask  uint64
}

// NewBandedIndex returns an empty banded index. With threshold >= 64 no band
// can be guaranteed to match, so the index degrades to a linear scan.
func NewBandedIndex(threshold int) *BandedIndex {
	b := &BandedIndex{threshold: threshold}
	n := threshold + 1
	if n > 64 {
		b.linear = NewLinearIndex(threshold)
		return b
	}

	width, extra := 64/n, 64%n
	shift := uint(0)
	for i := 0; i < n; i++ {
		w := width
		if i < extra {
			w++
		}
		mask := uint64(1)<<uint(w) - 1
		if w == 64 {
			mask = ^uint64(0)
		}
		b.bands = append(b.bands, band{shift: shift, mask: mask})
		shift += uint(w)
	}
	b.buckets = make([]map[uint64][]int, n)
	for i := range b.buckets {
		b.buckets[i] = make(map[uint64][]int)
	}
	return b
}

func (b *BandedIndex) Match(fp Fingerprint) (string, bool) {
	if b.linear != nil {
		return b.linear.Match(fp)
	}

	best := -1
	for i, bd := range b.bands {
		key := (uint64(fp) >> bd.shift) & bd.mask
		for _, pos := range b.buckets[i][key] {
			if best >= 0 && pos >= best {
				break
			}
			if Hamming(fp, b.entries[pos].fp) <= b.threshold {
				best = pos
				break
			}
		}
	}
	if best < 0 {
		return "", false
	}
	return b.entries[best].id, true
}

func (b *BandedIndex) Add(fp Fingerprint, id string) {
	if b.linear != nil {
		b.linear.Add(fp, id)
		return
	}

	pos := len(b.entries)
	b.entries = append(b.entries, entry{fp: fp, id: id})
	for i, bd := range b.bands {
		key := (uint64(fp) >> bd.shift) & bd.mask
		b.buckets[i][key] = append(b.buckets[i][key], pos)
	}
}

func (b *BandedIndex) Len() int {
	if b.linear != nil {
		return b.linear.Len()
	}
	return len(b.entries)
}
