// Package dedup filters exact and near-duplicate results out of a merged
// result batch using content fingerprints: a collision-resistant digest over
// normalized text for exact matches, plus a 64-bit simhash over shingled
// tokens for near-duplicate detection.
package dedup

import (
	"crypto/sha256"
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a derived value attached to one result for the duration of a
// dedup pass. It is never persisted.
type Fingerprint struct {
	Digest  [sha256.Size]byte
	SimHash uint64
}

// Compute fingerprints the given text: the digest covers the normalized text
// exactly, while the simhash summarizes shingles of shingleSize tokens.
func Compute(text string, shingleSize int) Fingerprint {
	if shingleSize <= 0 {
		shingleSize = 3
	}
	normalized := Normalize(text)
	return Fingerprint{
		Digest:  sha256.Sum256([]byte(normalized)),
		SimHash: simhash(strings.Fields(normalized), shingleSize),
	}
}

// Similarity maps the Hamming distance between two simhashes into [0,1],
// where 1 means identical signatures.
func Similarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// Normalize lower-cases the text, strips markup tags and non-alphanumeric
// runs, and collapses whitespace, so syndicated copies of the same content
// fingerprint identically despite formatting differences.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inTag := false
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case inTag:
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// simhash computes a 64-bit locality-sensitive signature: each shingle votes
// per bit position, and the sign of each tally becomes that bit.
func simhash(tokens []string, shingleSize int) uint64 {
	if len(tokens) == 0 {
		return 0
	}
	if shingleSize > len(tokens) {
		shingleSize = len(tokens)
	}

	var tally [64]int
	for i := 0; i+shingleSize <= len(tokens); i++ {
		h := xxhash.Sum64String(strings.Join(tokens[i:i+shingleSize], " "))
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				tally[bit]++
			} else {
				tally[bit]--
			}
		}
	}

	var sig uint64
	for bit := 0; bit < 64; bit++ {
		if tally[bit] > 0 {
			sig |= 1 << uint(bit)
		}
	}
	return sig
}
