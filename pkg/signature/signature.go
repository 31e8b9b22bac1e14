// Package signature builds fixed-width hashed bag-of-tokens feature vectors
// for fuzzy matching of queries, failure descriptions, and file paths.
//
// A signature is a 64-dimensional float32 vector: each token hashes (FNV-1a)
// into one bucket, which is incremented by the token's weight. Two texts that
// share many tokens produce vectors with high cosine similarity, without Muninn
// having to store or compare raw token sets.
//
// Similarity uses vek32 so that the hot inhibition path gets SIMD
// acceleration where the platform supports it.
package signature

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/viterin/vek/vek32"
)

// Dim is the fixed signature width. Collisions are acceptable: signatures
// feed similarity scoring, not exact matching.
const Dim = 64

// Vector is a hashed token feature vector.
type Vector []float32

// FromText builds a signature from free text. Tokens are lowercased and split
// on any non-alphanumeric rune; single-character tokens are dropped.
func FromText(text string) Vector {
	return FromTokens(Tokenize(text))
}

// FromTokens builds a signature from pre-split tokens, each with weight 1.
func FromTokens(tokens []string) Vector {
	v := make(Vector, Dim)
	for _, token := range tokens {
		v[bucket(token)]++
	}
	return v
}

// Add folds the tokens of more text into an existing signature with the
// given per-token weight. Useful for composing a signature from parts of
// different importance (task text, error category, file paths).
func (v Vector) Add(text string, weight float32) Vector {
	for _, token := range Tokenize(text) {
		v[bucket(token)] += weight
	}
	return v
}

// Similarity returns the cosine similarity of two signatures in [0,1].
// Zero vectors compare as 0.
func Similarity(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	// vek32.CosineSimilarity returns NaN for zero vectors, we want 0
	result := vek32.CosineSimilarity(a, b)
	if math.IsNaN(float64(result)) {
		return 0
	}
	if result < 0 {
		return 0
	}
	return float64(result)
}

// IsZero reports whether the signature has no token mass.
func (v Vector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Tokenize lowercases and splits text on non-alphanumeric runes, dropping
// single-character tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func bucket(token string) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % Dim)
}
