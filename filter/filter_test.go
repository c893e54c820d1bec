package filter_test

import (
	"testing"

	"github.com/hahalml/kasocki/filter"
)

func TestCompile_NilOnEmptySpec(t *testing.T) {
	m, err := filter.Compile(nil, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil matcher for empty spec")
	}
	if !m.Evaluate(map[string]any{"anything": "goes"}) {
		t.Error("nil matcher must match-all")
	}
}

func TestMatcher_ScalarEquality(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"status": "online"}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !m.Evaluate(map[string]any{"status": "online"}) {
		t.Error("expected match for status=online")
	}
	if m.Evaluate(map[string]any{"status": "offline"}) {
		t.Error("expected no match for status=offline")
	}
	if m.Evaluate(map[string]any{}) {
		t.Error("expected no match for missing field")
	}
}

func TestMatcher_DottedPath(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"user.last_name": "Berry"}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	msg := map[string]any{"user": map[string]any{"last_name": "Berry"}}
	if !m.Evaluate(msg) {
		t.Error("expected match on nested dotted path")
	}

	msg2 := map[string]any{"user": map[string]any{"last_name": "Smith"}}
	if m.Evaluate(msg2) {
		t.Error("expected no match for different nested value")
	}
}

func TestMatcher_RegexLiteral(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"name": "/(green|red) doors?$/"}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !m.Evaluate(map[string]any{"name": "the green doors"}) {
		t.Error("expected regex match")
	}
	if m.Evaluate(map[string]any{"name": "the blue door"}) {
		t.Error("expected no regex match")
	}
}

func TestMatcher_SequenceMembership(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"tag": []any{"a", "b", "c"}}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !m.Evaluate(map[string]any{"tag": "b"}) {
		t.Error("expected membership match")
	}
	if m.Evaluate(map[string]any{"tag": "z"}) {
		t.Error("expected no membership match")
	}
}

func TestMatcher_SequenceSubset(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"tags": []any{"a", "b"}}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !m.Evaluate(map[string]any{"tags": []any{"a", "b", "c"}}) {
		t.Error("expected subset match")
	}
	if m.Evaluate(map[string]any{"tags": []any{"a"}}) {
		t.Error("expected no subset match (missing b)")
	}
}

func TestCompile_RejectsNestedMapping(t *testing.T) {
	_, err := filter.Compile(filter.Spec{"user": map[string]any{"name": "x"}}, filter.DefaultLimits)
	if err == nil {
		t.Fatal("expected error for nested mapping criterion")
	}
}

func TestCompile_RejectsEmptyPathSegment(t *testing.T) {
	_, err := filter.Compile(filter.Spec{"user..name": "x"}, filter.DefaultLimits)
	if err == nil {
		t.Fatal("expected error for empty path segment")
	}
}

func TestCompile_RejectsUnsafeRegex(t *testing.T) {
	_, err := filter.Compile(filter.Spec{"name": "/(a+){10}/"}, filter.DefaultLimits)
	if err == nil {
		t.Fatal("expected error for catastrophically unsafe regex")
	}
}

func TestCompile_RejectsTooManyClauses(t *testing.T) {
	spec := filter.Spec{}
	for i := 0; i < filter.DefaultLimits.MaxClauses+1; i++ {
		spec[string(rune('a'+i))] = i
	}
	_, err := filter.Compile(spec, filter.DefaultLimits)
	if err == nil {
		t.Fatal("expected error for too many clauses")
	}
}

func TestMatcher_RecordsRuntimeErrorsWithoutThrowing(t *testing.T) {
	m, err := filter.Compile(filter.Spec{"name": "/abc/"}, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// A nested object can't be coerced to a string for regex matching;
	// the matcher must record the anomaly and return false, never panic.
	matched := m.Evaluate(map[string]any{"name": map[string]any{"nested": true}})
	if matched {
		t.Error("expected no match for uncoercible regex target")
	}
	if len(m.Errors()) == 0 {
		t.Error("expected a recorded error in the matcher's error buffer")
	}
}

func TestMatcher_Render_RoundTripsWireShape(t *testing.T) {
	spec := filter.Spec{"status": "online", "name": "/abc/i"}
	m, err := filter.Compile(spec, filter.DefaultLimits)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	rendered := m.Render()
	if rendered["status"] != "online" {
		t.Errorf("rendered status = %v, want online", rendered["status"])
	}
	if rendered["name"] != "/abc/i" {
		t.Errorf("rendered name = %v, want /abc/i", rendered["name"])
	}
}
