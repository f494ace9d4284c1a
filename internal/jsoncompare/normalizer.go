// internal/jsoncompare/normalizer.go
package jsoncompare

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Normalizer applies heuristic rules to a parsed JSON structure.
type Normalizer struct {
	Rules HeuristicRules
}

// NewNormalizer creates a new normalizer with the given rules.
func NewNormalizer(rules HeuristicRules) *Normalizer {
	return &Normalizer{Rules: rules}
}

// Normalize recursively traverses a parsed JSON structure and replaces dynamic keys
// and values with static placeholders.
func (n *Normalizer) Normalize(data any) any {
	if n.isValueDynamic(data) {
		return PlaceholderDynamicValue
	}

	switch v := data.(type) {
	case map[string]any:
		return n.normalizeMap(v)
	case []any:
		return n.normalizeSlice(v)
	default:
		return data
	}
}

// normalizeMap keeps the key but masks the value of every dynamic key, so a key that
// is present on one side only still shows up as a difference.
func (n *Normalizer) normalizeMap(m map[string]any) map[string]any {
	normalized := make(map[string]any, len(m))
	for key, val := range m {
		if n.isKeyDynamic(key) {
			normalized[key] = PlaceholderDynamicValue
			continue
		}
		normalized[key] = n.Normalize(val)
	}
	return normalized
}

func (n *Normalizer) normalizeSlice(s []any) []any {
	normalized := make([]any, len(s))
	for i, val := range s {
		normalized[i] = n.Normalize(val)
	}
	return normalized
}

func (n *Normalizer) isKeyDynamic(key string) bool {
	for _, pattern := range n.Rules.KeyPatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}

func (n *Normalizer) isValueDynamic(val any) bool {
	switch v := val.(type) {
	case string:
		return n.isStringValueDynamic(v)
	case float64:
		return n.Rules.CheckValueForTimestamp && isPlausibleUnixTimestamp(v)
	}
	return false
}

func (n *Normalizer) isStringValueDynamic(s string) bool {
	// Short strings are unlikely to be identifiers.
	if len(s) < 10 {
		return false
	}
	if n.Rules.CheckValueForUUID {
		if _, err := uuid.Parse(s); err == nil {
			return true
		}
	}
	if n.Rules.CheckValueForTimestamp {
		for _, format := range n.Rules.TimestampFormats {
			if _, err := time.Parse(format, s); err == nil {
				return true
			}
		}
	}
	if n.Rules.CheckValueForHighEntropy && len(s) >= 16 {
		if calculateShannonEntropy(s) > n.Rules.EntropyThreshold {
			return true
		}
	}
	return false
}

// calculateShannonEntropy calculates the Shannon entropy of a string in bits per character.
func calculateShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	var entropy float64
	length := float64(utf8.RuneCountInString(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// isPlausibleUnixTimestamp checks if a number falls within a reasonable range for a Unix timestamp.
func isPlausibleUnixTimestamp(ts float64) bool {
	// 2015-01-01 to 2035-01-01, in seconds, milliseconds or microseconds.
	const minTimestamp = 1420070400
	const maxTimestamp = 2051222400
	return (ts >= minTimestamp && ts <= maxTimestamp) ||
		(ts >= minTimestamp*1000 && ts <= maxTimestamp*1000) ||
		(ts >= minTimestamp*1000000 && ts <= maxTimestamp*1000000)
}
