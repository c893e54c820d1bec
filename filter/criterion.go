package filter

import (
	"fmt"
	"regexp"
)

// criterion is satisfied by a decoded message value (spec.md §4.3):
//
//   - scalar criterion vs. scalar value: strict equality (type + value)
//   - regex criterion vs. scalar value: value coerced to string, matched
//   - sequence criterion vs. scalar value: membership
//   - sequence criterion vs. sequence value: subset-containment
//   - scalar/regex criterion vs. sequence value: at least one element matches
type criterion interface {
	satisfiedBy(value any) (bool, error)
}

// scalarCriterion matches by strict equality (spec.md §4.3 bullet 1).
type scalarCriterion struct {
	want any
}

func (c scalarCriterion) satisfiedBy(value any) (bool, error) {
	if seq, ok := asSequence(value); ok {
		for _, elem := range seq {
			if scalarEquals(elem, c.want) {
				return true, nil
			}
		}
		return false, nil
	}
	return scalarEquals(value, c.want), nil
}

// regexCriterion matches a compiled /pattern/flags literal against the
// value coerced to a string (spec.md §4.3 bullet 2).
type regexCriterion struct {
	re *regexp.Regexp
}

func (c regexCriterion) satisfiedBy(value any) (bool, error) {
	if seq, ok := asSequence(value); ok {
		for _, elem := range seq {
			s, ok := coerceString(elem)
			if ok && c.re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	}
	s, ok := coerceString(value)
	if !ok {
		return false, fmt.Errorf("cannot coerce %T to string for regex match", value)
	}
	return c.re.MatchString(s), nil
}

// sequenceCriterion matches either by membership (scalar value) or
// subset-containment (sequence value) (spec.md §4.3 bullets 3-4).
type sequenceCriterion struct {
	elements []criterion
	raw      []any
}

func (c sequenceCriterion) satisfiedBy(value any) (bool, error) {
	if valueSeq, ok := asSequence(value); ok {
		// subset-containment: every criterion element present in value
		for _, elemCriterion := range c.elements {
			found := false
			for _, v := range valueSeq {
				ok, err := elemCriterion.satisfiedBy(v)
				if err != nil {
					return false, err
				}
				if ok {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	}

	// membership: value equal to at least one element
	for _, elemCriterion := range c.elements {
		ok, err := elemCriterion.satisfiedBy(value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// asSequence reports whether value is a []any (a decoded JSON array),
// returning its elements.
func asSequence(value any) ([]any, bool) {
	seq, ok := value.([]any)
	return seq, ok
}

// scalarEquals implements strict (type + value) equality, adapted from
// multicast_registry/filter's equals() type switch (DESIGN.md).
func scalarEquals(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return a == b
	}
}

// coerceString converts a scalar value to its string form for regex
// matching (spec.md §4.3 bullet 2: "value coerced to string").
func coerceString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return formatFloat(v), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
