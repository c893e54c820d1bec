package filter

import (
	"fmt"
	"strings"

	"github.com/hahalml/kasocki/kerrors"
)

// Compile validates spec against the rules in spec.md §4.3 and compiles
// it into a total Matcher. Construction-time errors are returned as
// *kerrors.Error with Kind InvalidFilter; a nil/empty spec compiles to
// a nil Matcher (match-all).
func Compile(spec Spec, limits Limits) (*Matcher, error) {
	if len(spec) == 0 {
		return nil, nil
	}
	if limits.MaxClauses > 0 && len(spec) > limits.MaxClauses {
		return nil, kerrors.NewInvalidFilter(
			fmt.Sprintf("filter has %d clauses, exceeds limit of %d", len(spec), limits.MaxClauses))
	}

	m := &Matcher{source: make(Spec, len(spec))}
	for path, rawCriterion := range spec {
		segments, err := splitPath(path, limits)
		if err != nil {
			return nil, kerrors.NewInvalidFilter(err.Error())
		}

		c, err := compileCriterion(rawCriterion)
		if err != nil {
			return nil, kerrors.NewInvalidFilter(fmt.Sprintf("path %q: %v", path, err))
		}

		m.source[path] = rawCriterion
		m.fields = append(m.fields, &fieldMatcher{path: segments, criterion: c})
	}
	return m, nil
}

// splitPath validates and splits a dotted path (spec.md §4.3 bullet 2):
// non-empty, segments separated by ".", no empty segments.
func splitPath(path string, limits Limits) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("filter key must be a non-empty dotted path")
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("dotted path %q has an empty segment", path)
		}
	}
	if limits.MaxDepth > 0 && len(segments) > limits.MaxDepth {
		return nil, fmt.Errorf("path %q has depth %d, exceeds limit of %d", path, len(segments), limits.MaxDepth)
	}
	return segments, nil
}

// compileCriterion builds the criterion for one filter value: a scalar,
// a regex-literal string, or a sequence of scalars/regex-literals
// (spec.md §3's FilterSpec criterion shapes). Nested mappings are
// invalid (spec.md §4.3 bullet 3).
func compileCriterion(raw any) (criterion, error) {
	switch v := raw.(type) {
	case map[string]any:
		return nil, fmt.Errorf("nested mappings are not a valid criterion")
	case []any:
		elems := make([]criterion, 0, len(v))
		for _, elemRaw := range v {
			ec, err := compileScalarOrRegex(elemRaw)
			if err != nil {
				return nil, fmt.Errorf("sequence element: %w", err)
			}
			elems = append(elems, ec)
		}
		return sequenceCriterion{elements: elems, raw: v}, nil
	default:
		return compileScalarOrRegex(v)
	}
}

// compileScalarOrRegex compiles a single scalar/regex-literal value.
func compileScalarOrRegex(raw any) (criterion, error) {
	if s, ok := raw.(string); ok {
		if _, _, isRegex := parseRegexLiteral(s); isRegex {
			re, err := compileRegexLiteral(s)
			if err != nil {
				return nil, err
			}
			return regexCriterion{re: re}, nil
		}
	}
	switch raw.(type) {
	case string, float64, int, int64, bool, nil:
		return scalarCriterion{want: raw}, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("nested mappings/sequences are not a valid scalar criterion")
	default:
		return nil, fmt.Errorf("unsupported criterion type %T", raw)
	}
}
