// Package dedup detects exact and near duplicate texts within one build.
package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/cognicore/korpus/pkg/korpus/textnorm"
)

// Fingerprint is a 64-bit SimHash.
type Fingerprint uint64

// SimHash computes a 64-bit locality-sensitive fingerprint of text. Each
// word token is hashed to 64 bits (the first 8 bytes of its SHA-256,
// big-endian) and votes +1 or -1 on every bit position. A bit is set iff its
// vote is positive. Text with no tokens yields 0.
func SimHash(text string) Fingerprint {
	tokens := textnorm.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var votes [64]int
	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		h := binary.BigEndian.Uint64(sum[:8])
		for i := 0; i < 64; i++ {
			if (h>>i)&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var out uint64
	for i, v := range votes {
		if v > 0 {
			out |= 1 << i
		}
	}
	return Fingerprint(out)
}

// Hamming returns the number of differing bits between a and b.
func Hamming(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}
