// internal/jsoncompare/heuristics.go
package jsoncompare

import (
	"regexp"
	"time"
)

// PlaceholderDynamicValue replaces values identified as dynamic.
const PlaceholderDynamicValue = "__DYNAMIC_VALUE__"

// HeuristicRules defines the configurable set of rules for identifying data that
// legitimately differs between two runs.
type HeuristicRules struct {
	// KeyPatterns identifies map keys whose values are ignored (e.g., "timestamp").
	KeyPatterns []*regexp.Regexp
	// CheckValueForUUID enables detection of UUIDs in string values.
	CheckValueForUUID bool
	// CheckValueForTimestamp enables detection of timestamps (strings or numbers).
	CheckValueForTimestamp bool
	// TimestampFormats defines the layouts to try when parsing string timestamps.
	TimestampFormats []string
	// CheckValueForHighEntropy enables detection of high-entropy strings (e.g., tokens).
	CheckValueForHighEntropy bool
	// EntropyThreshold defines the minimum Shannon entropy to classify a string as dynamic.
	EntropyThreshold float64
}

// DefaultRules masks report metadata that changes on every run and nothing else.
// Page text is left alone even when it looks like a date, since it is what is under test.
func DefaultRules() HeuristicRules {
	return HeuristicRules{
		KeyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`^timestamp$`),
			regexp.MustCompile(`(?i)^run_?id$`),
		},
		CheckValueForUUID: true,
		TimestampFormats:  []string{time.RFC3339, time.RFC3339Nano},
		EntropyThreshold:  4.5,
	}
}

// StrictRules masks nothing.
func StrictRules() HeuristicRules {
	return HeuristicRules{}
}

// WithTimestampValues also masks string values that parse as timestamps and numbers in
// the Unix epoch range of 2015 to 2035, for pages that render the current time.
func (r HeuristicRules) WithTimestampValues() HeuristicRules {
	r.CheckValueForTimestamp = true
	if len(r.TimestampFormats) == 0 {
		r.TimestampFormats = DefaultRules().TimestampFormats
	}
	return r
}

// WithHighEntropyValues also masks strings of 16 or more characters whose Shannon
// entropy exceeds the threshold, such as session tokens or nonces rendered into the page.
func (r HeuristicRules) WithHighEntropyValues() HeuristicRules {
	r.CheckValueForHighEntropy = true
	if r.EntropyThreshold <= 0 {
		r.EntropyThreshold = DefaultRules().EntropyThreshold
	}
	return r
}
