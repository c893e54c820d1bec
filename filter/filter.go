// Package filter compiles a client-supplied FilterSpec (spec.md §3,
// §4.3) into a total predicate over decoded messages.
//
// A FilterSpec maps dotted paths to criteria. The compiled Matcher
// evaluates every entry and never throws: runtime anomalies (e.g. a
// regex applied to a value that can't be coerced to a string) are
// recorded in the Matcher's error buffer and treated as a non-match
// for that entry, exactly as spec.md §4.3 requires.
//
// The node-per-field/AND-them-all shape here is adapted from
// patterns/multicast_registry/filter's boolean-AST Evaluate(metadata)
// bool nodes (see DESIGN.md) — this spec has no client-supplied
// boolean composition, so the AST collapses to one fieldMatcher per
// path ANDed by the top-level Matcher.
package filter

import (
	"fmt"
	"strings"
)

// Spec is the raw, client-supplied filter map: dotted path -> criterion.
// A criterion is a scalar, a regex-literal string ("/pattern/flags"), or
// a slice of scalars/regex-literals.
type Spec map[string]any

// Limits bounds filter complexity, adapted from
// multicast_registry.Config's (never-enforced) MaxFilterDepth/MaxClauses.
type Limits struct {
	MaxDepth   int // max dotted-path segment count
	MaxClauses int // max number of (path, criterion) entries
}

// DefaultLimits matches the values multicast_registry.Config defaults to.
var DefaultLimits = Limits{MaxDepth: 5, MaxClauses: 20}

// fieldMatcher evaluates one (path, criterion) entry against a message.
type fieldMatcher struct {
	path      []string
	criterion criterion
}

func (f *fieldMatcher) evaluate(m *Matcher, msg map[string]any) bool {
	value, ok := resolvePath(msg, f.path)
	if !ok {
		return false
	}
	ok, err := f.criterion.satisfiedBy(value)
	if err != nil {
		m.recordError(fmt.Errorf("path %q: %w", strings.Join(f.path, "."), err))
		return false
	}
	return ok
}

// resolvePath descends dotted segments through nested maps. A missing
// intermediate key yields (nil, false), never a panic.
func resolvePath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, seg := range path {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matcher is a compiled, total predicate over decoded messages. Absence
// of a Matcher (a nil *Matcher) is equivalent to match-all — callers
// should guard with Matcher.Evaluate, which handles nil receivers.
type Matcher struct {
	source Spec
	fields []*fieldMatcher

	errBuf []error
}

// Source returns the FilterSpec this matcher was compiled from, for
// inspection/logging (spec.md §3).
func (m *Matcher) Source() Spec {
	if m == nil {
		return nil
	}
	return m.source
}

// Evaluate returns true iff every field criterion is satisfied. A nil
// Matcher always matches (match-all), per spec.md §3.
func (m *Matcher) Evaluate(msg map[string]any) bool {
	if m == nil {
		return true
	}
	for _, f := range m.fields {
		if !f.evaluate(m, msg) {
			return false
		}
	}
	return true
}

// Errors returns the matcher's non-fatal per-call error buffer,
// accumulated across every Evaluate call since compilation. It is local
// to this Matcher, not session-global, and is discarded (not mutated)
// when a new filter replaces it (spec.md §9).
func (m *Matcher) Errors() []error {
	if m == nil {
		return nil
	}
	return m.errBuf
}

func (m *Matcher) recordError(err error) {
	m.errBuf = append(m.errBuf, err)
}

// Render reproduces the wire FilterSpec view spec.md §6.1 requires the
// `filter` ack to return: regex criteria rendered back as "/pat/flags".
func (m *Matcher) Render() Spec {
	if m == nil {
		return Spec{}
	}
	out := make(Spec, len(m.source))
	for k, v := range m.source {
		out[k] = v
	}
	return out
}
