package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// regexDelim delimits a filter value that should be
// interpreted as a regex rather than a literal string (spec.md §3,
// §9 "Regex-literal carriage over JSON").
const regexDelim = '/'

// parseRegexLiteral recognizes a "/pattern/flags" string. ok is false
// for any string that isn't delimited this way, in which case the
// value should be treated as a plain scalar.
func parseRegexLiteral(s string) (pattern, flags string, ok bool) {
	if len(s) < 2 || s[0] != regexDelim {
		return "", "", false
	}
	end := strings.LastIndexByte(s, regexDelim)
	if end <= 0 {
		return "", "", false
	}
	return s[1:end], s[end+1:], true
}

// compileRegexLiteral parses, translates supported flags, and compiles
// a regex literal, rejecting patterns that are malformed or prone to
// catastrophic backtracking.
func compileRegexLiteral(s string) (*regexp.Regexp, error) {
	pattern, flags, ok := parseRegexLiteral(s)
	if !ok {
		return nil, fmt.Errorf("not a regex literal: %q", s)
	}
	for _, f := range flags {
		switch f {
		case 'i':
			pattern = "(?i)" + pattern
		case 'm':
			pattern = "(?m)" + pattern
		case 's':
			pattern = "(?s)" + pattern
		default:
			return nil, fmt.Errorf("unsupported regex flag %q in %q", string(f), s)
		}
	}

	if err := checkBacktrackingSafety(pattern); err != nil {
		return nil, fmt.Errorf("unsafe regex %q: %w", s, err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", s, err)
	}
	return re, nil
}

// checkBacktrackingSafety rejects syntactic shapes that are classic
// catastrophic-backtracking triggers in backtracking engines: a group
// containing a + or * that is itself repeated, e.g. "(a+)+", "(a*)*",
// "(a+){10}". Alternations with overlapping branches such as "(a|a)+"
// are not detected. Go's RE2-based regexp engine runs any
// of these in linear time at execution, so this is a syntactic lint
// rather than a runtime necessity — kept because filters are commonly
// ported from engines (PCRE, JS RegExp) where these patterns really
// are exponential, and a filter author relying on that defense
// elsewhere should still be told the pattern is suspect (see
// DESIGN.md).
func checkBacktrackingSafety(pattern string) error {
	// hasUnbounded[d] tracks whether the group currently open at depth d
	// contains an unbounded-repetition atom (x+ or x*) directly inside it.
	var hasUnbounded []bool

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++ // skip escaped char
		case '(':
			hasUnbounded = append(hasUnbounded, false)
		case ')':
			closedUnbounded := false
			if len(hasUnbounded) > 0 {
				closedUnbounded = hasUnbounded[len(hasUnbounded)-1]
				hasUnbounded = hasUnbounded[:len(hasUnbounded)-1]
			}
			quant, width := quantifierAt(pattern, i+1)
			if closedUnbounded && quant {
				return fmt.Errorf("nested unbounded quantifier at offset %d: a group containing +/* is itself repeated", i)
			}
			if quant && len(hasUnbounded) > 0 {
				// propagate: an outer group containing this quantified
				// group is itself "unbounded" for the purposes of the check
				hasUnbounded[len(hasUnbounded)-1] = hasUnbounded[len(hasUnbounded)-1] || closedUnbounded
			}
			_ = width
		case '+', '*':
			if len(hasUnbounded) > 0 {
				hasUnbounded[len(hasUnbounded)-1] = true
			}
		}
	}
	return nil
}

// quantifierAt reports whether pattern has a repetition quantifier
// (+, *, or any {...} count, bounded or not) starting at index i, and
// how wide it is.
func quantifierAt(pattern string, i int) (bool, int) {
	if i >= len(pattern) {
		return false, 0
	}
	switch pattern[i] {
	case '+', '*':
		return true, 1
	case '{':
		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			return false, 0
		}
		body := pattern[i+1 : i+end]
		// {n,} or {n,m} with m large enough to be effectively unbounded;
		// {10} (exact count) still compounds with an inner + into 10x
		// the inner blowup, so treat any {..} after an unbounded inner
		// group as quantified too.
		return true, len(body) + 2
	}
	return false, 0
}
