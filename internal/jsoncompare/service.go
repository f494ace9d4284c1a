// internal/jsoncompare/service.go
package jsoncompare

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONComparison compares two JSON documents semantically.
type JSONComparison interface {
	Compare(a, b []byte) (*ComparisonResult, error)
	CompareWithOptions(a, b []byte, opts Options) (*ComparisonResult, error)
}

// Options tune a comparison.
type Options struct {
	Rules HeuristicRules
	// PixelKeys names object keys whose numeric values compare within PixelTolerance.
	PixelKeys []string
	// PixelTolerance is the absolute tolerance for PixelKeys values.
	PixelTolerance float64
	// NumberTolerance is the absolute tolerance for every other number.
	NumberTolerance float64
	// EquateEmpty treats null, {} and [] on both sides as equal when of the same kind.
	EquateEmpty bool
	// IgnoreArrayOrder compares arrays as multisets.
	IgnoreArrayOrder bool
}

// DefaultOptions compares two probe reports for idempotence: the timestamp is ignored,
// box coordinates may drift by up to one pixel, and everything else must match.
func DefaultOptions() Options {
	return Options{
		Rules:           DefaultRules(),
		PixelKeys:       []string{"x", "y", "width", "height"},
		PixelTolerance:  1,
		NumberTolerance: 1e-6,
		EquateEmpty:     true,
	}
}

// ComparisonResult is the outcome of a comparison.
type ComparisonResult struct {
	AreEquivalent bool
	Diff          string
	IsJSON        bool
	NormalizedA   any `json:"-"`
	NormalizedB   any `json:"-"`
}

type service struct {
	logger *zap.Logger
}

// NewService creates a new instance of the JSON comparison service.
func NewService(logger *zap.Logger) JSONComparison {
	return &service{logger: logger.Named("jsoncompare")}
}

// Compare performs a comparison using default options.
func (s *service) Compare(a, b []byte) (*ComparisonResult, error) {
	return s.CompareWithOptions(a, b, DefaultOptions())
}

// CompareWithOptions performs a full semantic comparison using the specified options.
func (s *service) CompareWithOptions(a, b []byte, opts Options) (*ComparisonResult, error) {
	if bytes.Equal(a, b) {
		return &ComparisonResult{AreEquivalent: true, IsJSON: json.Valid(a)}, nil
	}

	var dataA, dataB any
	errA := json.Unmarshal(a, &dataA)
	errB := json.Unmarshal(b, &dataB)
	if errA != nil || errB != nil {
		s.logger.Debug("Comparison involves non-JSON data",
			zap.Bool("json_a", errA == nil),
			zap.Bool("json_b", errB == nil),
		)
		return &ComparisonResult{
			Diff: fmt.Sprintf("Content differs (non-JSON or mixed types). Length A: %d (JSON: %v), Length B: %d (JSON: %v)",
				len(a), errA == nil, len(b), errB == nil),
			IsJSON: errA == nil || errB == nil,
		}, nil
	}

	normalizer := NewNormalizer(opts.Rules)
	normA := normalizer.Normalize(dataA)
	normB := normalizer.Normalize(dataB)

	diff := cmp.Diff(normA, normB, buildCmpOptions(opts))
	s.logger.Debug("Compared documents.", zap.Bool("equivalent", diff == ""))
	return &ComparisonResult{
		AreEquivalent: diff == "",
		Diff:          diff,
		IsJSON:        true,
		NormalizedA:   normA,
		NormalizedB:   normB,
	}, nil
}

// buildCmpOptions assembles the go-cmp options for opts.
func buildCmpOptions(opts Options) cmp.Options {
	pixel := make(map[string]bool, len(opts.PixelKeys))
	for _, k := range opts.PixelKeys {
		pixel[k] = true
	}
	isPixel := func(p cmp.Path) bool { return lastMapKeyIn(p, pixel) }

	cmpOpts := cmp.Options{
		cmp.FilterPath(isPixel, cmpopts.EquateApprox(0, opts.PixelTolerance)),
		cmp.FilterPath(func(p cmp.Path) bool { return !isPixel(p) }, cmpopts.EquateApprox(0, opts.NumberTolerance)),
	}
	if opts.EquateEmpty {
		cmpOpts = append(cmpOpts, equateEmptyOption())
	}
	if opts.IgnoreArrayOrder {
		cmpOpts = append(cmpOpts, cmpopts.SortSlices(genericSliceLess))
	}
	return cmpOpts
}

// lastMapKeyIn reports whether the innermost object key on the path is in keys.
// Interface unwrapping steps are skipped.
func lastMapKeyIn(p cmp.Path, keys map[string]bool) bool {
	for i := len(p) - 1; i >= 0; i-- {
		switch step := p[i].(type) {
		case cmp.TypeAssertion:
			continue
		case cmp.MapIndex:
			k := step.Key()
			return k.Kind() == reflect.String && keys[k.String()]
		default:
			return false
		}
	}
	return false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	}
	return false
}

// equateEmptyOption treats JSON null as equal to any empty structure. Standard
// cmpopts.EquateEmpty doesn't consider a nil interface empty.
func equateEmptyOption() cmp.Option {
	return cmp.FilterValues(
		func(x, y any) bool { return isEmpty(x) && isEmpty(y) },
		cmp.Comparer(func(x, y any) bool {
			if x == nil || y == nil {
				return true
			}
			// Both non-null; {} and [] still differ.
			return reflect.ValueOf(x).Kind() == reflect.ValueOf(y).Kind()
		}),
	)
}

// genericSliceLess provides a deterministic "less than" for decoded JSON values.
func genericSliceLess(x, y any) bool {
	vx := reflect.ValueOf(x)
	vy := reflect.ValueOf(y)
	if !vx.IsValid() {
		return vy.IsValid()
	}
	if !vy.IsValid() {
		return false
	}
	if vx.Type() != vy.Type() {
		return vx.Type().String() < vy.Type().String()
	}
	switch vx.Kind() {
	case reflect.String:
		return vx.String() < vy.String()
	case reflect.Float64:
		return vx.Float() < vy.Float()
	case reflect.Bool:
		return !vx.Bool() && vy.Bool()
	default:
		return fmt.Sprint(x) < fmt.Sprint(y)
	}
}
