package store

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// normalizeContent lowercases and collapses whitespace so trivially
// reformatted text hashes the same.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash returns the exact-duplicate fingerprint for content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// SimHash returns a 64-bit locality-sensitive fingerprint built from word
// trigrams. Similar texts produce fingerprints with a small Hamming distance.
func SimHash(content string) uint64 {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return 0
	}

	var shingles []string
	if len(words) < 3 {
		shingles = []string{strings.Join(words, " ")}
	} else {
		for i := 0; i+3 <= len(words); i++ {
			shingles = append(shingles, strings.Join(words[i:i+3], " "))
		}
	}

	var weights [64]int
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var fp uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			fp |= 1 << uint(bit)
		}
	}
	return fp
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
