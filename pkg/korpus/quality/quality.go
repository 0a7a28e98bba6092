// Package quality scores text with cheap lexical heuristics so obvious junk
// can be filtered before deduplication.
package quality

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Flag names one heuristic that fired.
type Flag string

const (
	FlagEmpty          Flag = "empty"
	FlagLowAlphaRatio  Flag = "low_alpha_ratio"
	FlagHighDigitRatio Flag = "high_digit_ratio"
	FlagLowUniqueRatio Flag = "low_unique_ratio"
	FlagHighRepetition Flag = "high_repetition"
)

// Thresholds and penalty weights.
const (
	minAlphaRatio      = 0.5
	alphaWeight        = 1.2
	maxDigitRatio      = 0.2
	digitWeight        = 1.0
	minUniqueRatio     = 0.6
	uniqueWeight       = 1.0
	maxRepetitionShare = 0.3
	repetitionWeight   = 1.2
)

// Result is a score in [0,1] and the flags that lowered it, in fixed order.
type Result struct {
	Score float64 `json:"score"`
	Flags []Flag  `json:"flags"`
}

// Has reports whether f fired.
func (r Result) Has(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// Score starts from 1.0 and subtracts independent penalties for low
// alphabetic content, high digit content, low token diversity and a single
// dominating token. Empty text scores 0 with only FlagEmpty.
func Score(text string) Result {
	t := strings.TrimSpace(text)
	if t == "" {
		return Result{Score: 0, Flags: []Flag{FlagEmpty}}
	}

	tokens := strings.Fields(t)
	freqs := make(map[string]int, len(tokens))
	maxFreq := 0
	for _, tok := range tokens {
		freqs[tok]++
		if freqs[tok] > maxFreq {
			maxFreq = freqs[tok]
		}
	}
	nTokens := max(1, len(tokens))
	uniqueRatio := float64(len(freqs)) / float64(nTokens)
	repetition := float64(maxFreq) / float64(nTokens)

	var alpha, digits int
	for _, r := range t {
		if r < utf8.RuneSelf && ('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z') {
			alpha++
		}
		if unicode.IsDigit(r) {
			digits++
		}
	}
	total := max(1, utf8.RuneCountInString(t))
	alphaRatio := float64(alpha) / float64(total)
	digitRatio := float64(digits) / float64(total)

	res := Result{Score: 1.0}

	if alphaRatio < minAlphaRatio {
		res.Flags = append(res.Flags, FlagLowAlphaRatio)
		res.Score -= (minAlphaRatio - alphaRatio) * alphaWeight
	}

	if digitRatio > maxDigitRatio {
		res.Flags = append(res.Flags, FlagHighDigitRatio)
		res.Score -= (digitRatio - maxDigitRatio) * digitWeight
	}

	if uniqueRatio < minUniqueRatio {
		res.Flags = append(res.Flags, FlagLowUniqueRatio)
		res.Score -= (minUniqueRatio - uniqueRatio) * uniqueWeight
	}

	if repetition > maxRepetitionShare {
		res.Flags = append(res.Flags, FlagHighRepetition)
		res.Score -= (repetition - maxRepetitionShare) * repetitionWeight
	}

	res.Score = clamp01(res.Score)
	return res
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
