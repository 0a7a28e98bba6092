package dedup

import (
	"github.com/cognicore/korpus/pkg/korpus/hashing"
)

// Kind classifies a duplicate verdict.
type Kind int

const (
	Unique Kind = iota
	Exact
	Near
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Near:
		return "near"
	default:
		return "unique"
	}
}

// Options selects which filters run.
type Options struct {
	Exact         bool
	Near          bool
	NearThreshold int
	NearIndex     string
}

// Verdict is the outcome of one Check. Of names the earlier record that
// the text duplicates.
type Verdict struct {
	Duplicate Kind
	Of        string
}

// Stats summarizes a State.
type Stats struct {
	ExactSeen    int `json:"exact_seen"`
	Fingerprints int `json:"fingerprints"`
}

// State is the dedup memory of a single build. It is not safe for
// concurrent use; records must be checked in one well-defined order.
type State struct {
	opts  Options
	exact map[string]string
	near  NearIndex
}

// NewState returns an empty state.
func NewState(opts Options) (*State, error) {
	s := &State{
		opts:  opts,
		exact: make(map[string]string),
	}
	if opts.Near {
		idx, err := NewIndex(opts.NearIndex, opts.NearThreshold)
		if err != nil {
			return nil, err
		}
		s.near = idx
	}
	return s, nil
}

// Check runs exact then near detection against text and records it as
// seen when a filter accepts it. The exact hash is stored as soon as the
// exact filter passes, even if the near filter then rejects.
func (s *State) Check(id, text string) Verdict {
	if s.opts.Exact {
		h := hashing.Text(text)
		if first, ok := s.exact[h]; ok {
			return Verdict{Duplicate: Exact, Of: first}
		}
		s.exact[h] = id
	}

	if s.near != nil {
		fp := SimHash(text)
		if first, ok := s.near.Match(fp); ok {
			return Verdict{Duplicate: Near, Of: first}
		}
		s.near.Add(fp, id)
	}

	return Verdict{Duplicate: Unique}
}

// Stats reports how much the state has accumulated.
func (s *State) Stats() Stats {
	st := Stats{ExactSeen: len(s.exact)}
	if s.near != nil {
		st.Fingerprints = s.near.Len()
	}
	return st
}
