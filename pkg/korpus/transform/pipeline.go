// Package transform turns one record's text into a keep/drop decision.
//
// Checks run in a fixed order and stop at the first rejection:
// normalize, length bounds, empty text, quality, exact dedup, near dedup.
package transform

import (
	"strings"

	"github.com/cognicore/korpus/pkg/korpus/dedup"
	"github.com/cognicore/korpus/pkg/korpus/quality"
	"github.com/cognicore/korpus/pkg/korpus/textnorm"
)

// Decision is the outcome for one record. TextAfter is set only when the
// record is kept. DuplicateOf names the earlier record for dedup rejections.
type Decision struct {
	Kept        bool
	Reason      Reason
	TextBefore  string
	TextAfter   string
	Quality     *quality.Result
	DuplicateOf string
}

// Pipeline applies a Config to a stream of records. It owns the dedup state
// of exactly one build and must be fed records sequentially.
type Pipeline struct {
	cfg   Config
	state *dedup.State
}

// NewPipeline validates cfg and returns a pipeline with empty dedup state.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	state, err := dedup.NewState(cfg.dedupOptions())
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, state: state}, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// DedupStats reports the size of the dedup state.
func (p *Pipeline) DedupStats() dedup.Stats { return p.state.Stats() }

// Decide evaluates one record. The id is remembered by the dedup state so
// later duplicates can point back to it.
func (p *Pipeline) Decide(id, text string) Decision {
	d, after := evaluate(text, p.cfg)
	if d.Reason != ReasonKept {
		return d
	}

	v := p.state.Check(id, after)
	switch v.Duplicate {
	case dedup.Exact:
		return reject(d, ReasonDuplicateExact, v.Of)
	case dedup.Near:
		return reject(d, ReasonDuplicateNear, v.Of)
	}

	d.Kept = true
	d.TextAfter = after
	return d
}

// Text runs the stateless checks (everything but deduplication).
func Text(text string, cfg Config) Decision {
	d, after := evaluate(text, cfg)
	if d.Reason == ReasonKept {
		d.Kept = true
		d.TextAfter = after
	}
	return d
}

// evaluate returns a decision with Reason set to the first failing
// stateless check, or ReasonKept, plus the normalized text.
func evaluate(text string, cfg Config) (Decision, string) {
	d := Decision{TextBefore: text, Reason: ReasonKept}
	after := textnorm.Normalize(text, cfg.Lowercase)

	n := textnorm.Len(after)
	if n < cfg.MinChars {
		d.Reason = ReasonTooShort
		return d, after
	}
	if n > cfg.MaxChars {
		d.Reason = ReasonTooLong
		return d, after
	}

	if strings.TrimSpace(after) == "" {
		d.Reason = ReasonEmptyAfterNorm
		return d, after
	}

	if cfg.MinQuality > 0 {
		q := quality.Score(after)
		d.Quality = &q
		if q.Score < cfg.MinQuality {
			d.Reason = ReasonLowQuality
			return d, after
		}
	}

	return d, after
}

func reject(d Decision, r Reason, of string) Decision {
	d.Reason = r
	d.DuplicateOf = of
	return d
}
