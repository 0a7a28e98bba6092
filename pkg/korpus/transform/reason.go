package transform

import "fmt"

// Reason is the closed set of outcomes of a transform decision.
type Reason int

const (
	ReasonKept Reason = iota
	ReasonTooShort
	ReasonTooLong
	ReasonEmptyAfterNorm
	ReasonLowQuality
	ReasonDuplicateExact
	ReasonDuplicateNear
)

var reasonNames = [...]string{
	ReasonKept:           "kept",
	ReasonTooShort:       "too_short",
	ReasonTooLong:        "too_long",
	ReasonEmptyAfterNorm: "empty_after_norm",
	ReasonLowQuality:     "low_quality",
	ReasonDuplicateExact: "duplicate_exact",
	ReasonDuplicateNear:  "duplicate_near",
}

// Reasons lists every reason in evaluation order.
func Reasons() []Reason {
	out := make([]Reason, len(reasonNames))
	for i := range reasonNames {
		out[i] = Reason(i)
	}
	return out
}

// Rejections lists every reason except ReasonKept.
func Rejections() []Reason {
	return Reasons()[1:]
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("Reason(%d)", int(r))
	}
	return reasonNames[r]
}

// ParseReason is the inverse of String.
func ParseReason(s string) (Reason, error) {
	for i, name := range reasonNames {
		if name == s {
			return Reason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown reason %q", s)
}

func (r Reason) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(reasonNames) {
		return nil, fmt.Errorf("invalid reason %d", int(r))
	}
	return []byte(reasonNames[r]), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	parsed, err := ParseReason(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// CountKey is the manifest counts key for a rejection, e.g. "dropped_too_short".
func (r Reason) CountKey() string {
	return "dropped_" + r.String()
}
