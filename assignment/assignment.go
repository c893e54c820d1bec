// Package assignment parses and validates a subscribe request into a
// normalized list of {topic, partition, offset} tuples (spec.md §4.2).
package assignment

import (
	"fmt"

	"github.com/hahalml/kasocki/kerrors"
)

// OffsetLatest denotes "start reading from the latest offset" (spec.md
// §3 "Assignment").
const OffsetLatest int64 = -1

// Assignment is a (topic, partition, offset) tuple (spec.md §3).
type Assignment struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Metadata is the subset of broker metadata the validator needs:
// per-topic partition counts, used to expand topic-name form.
type Metadata interface {
	// Partitions returns the number of partitions for topic, or
	// (0, false) if the topic is unknown.
	Partitions(topic string) (int32, bool)
}

// Validate parses raw subscribe input (spec.md §4.2):
//
//   - a bare string, promoted to a one-element topic-name list
//   - a list of topic-name strings, expanded to every partition in
//     broker metadata at offset -1 (latest)
//   - a list of assignment tuples, passed through after validation
//
// Mixed string/tuple forms are rejected. Every topic named, directly or
// via expansion, must be present in availableTopics; the first
// unavailable topic wins (no partial subscribe).
func Validate(raw any, availableTopics []string, meta Metadata) ([]Assignment, error) {
	allowed := make(map[string]bool, len(availableTopics))
	for _, t := range availableTopics {
		allowed[t] = true
	}

	items, err := normalizeInput(raw)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, kerrors.NewInvalidAssignment("subscribe requires at least one topic or assignment")
	}

	isTuples := isTupleForm(items[0])
	for _, item := range items[1:] {
		if isTupleForm(item) != isTuples {
			return nil, kerrors.NewInvalidAssignment("subscribe cannot mix topic names and assignment tuples")
		}
	}

	var out []Assignment
	if isTuples {
		out, err = parseTuples(items)
	} else {
		out, err = expandTopicNames(items, meta)
	}
	if err != nil {
		return nil, err
	}

	for _, a := range out {
		if !allowed[a.Topic] {
			return nil, kerrors.New(kerrors.TopicNotAvailable).
				WithMessagef("topic %q is not in availableTopics", a.Topic).
				WithContext("availableTopics", availableTopics).
				Build()
		}
	}
	return out, nil
}

// normalizeInput accepts a bare string, []string, []any of strings, or
// []any of assignment-shaped maps, and returns a uniform []any.
func normalizeInput(raw any) ([]any, error) {
	switch v := raw.(type) {
	case string:
		return []any{v}, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, nil
	case []any:
		return v, nil
	case nil:
		return nil, kerrors.NewInvalidAssignment("subscribe requires at least one topic or assignment")
	default:
		return nil, kerrors.NewInvalidAssignment(fmt.Sprintf("unsupported subscribe payload type %T", raw))
	}
}

func isTupleForm(item any) bool {
	switch item.(type) {
	case string:
		return false
	default:
		return true
	}
}

func parseTuples(items []any) ([]Assignment, error) {
	out := make([]Assignment, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, kerrors.NewInvalidAssignment(fmt.Sprintf("assignment entry must be an object, got %T", item))
		}

		topic, ok := m["topic"].(string)
		if !ok || topic == "" {
			return nil, kerrors.NewInvalidAssignment("assignment entry missing non-empty \"topic\"")
		}

		partition, err := asNonNegativeInt32(m["partition"])
		if err != nil {
			return nil, kerrors.NewInvalidAssignment(fmt.Sprintf("assignment %q: partition %v", topic, err))
		}

		offset, err := asValidOffset(m["offset"])
		if err != nil {
			return nil, kerrors.NewInvalidAssignment(fmt.Sprintf("assignment %q: offset %v", topic, err))
		}

		out = append(out, Assignment{Topic: topic, Partition: partition, Offset: offset})
	}
	return out, nil
}

func expandTopicNames(items []any, meta Metadata) ([]Assignment, error) {
	var out []Assignment
	for _, item := range items {
		topic, ok := item.(string)
		if !ok || topic == "" {
			return nil, kerrors.NewInvalidAssignment(fmt.Sprintf("topic name must be a non-empty string, got %T", item))
		}
		partitions, known := meta.Partitions(topic)
		if !known {
			return nil, kerrors.New(kerrors.TopicNotAvailable).
				WithMessagef("topic %q is not known to the broker", topic).
				Build()
		}
		for p := int32(0); p < partitions; p++ {
			out = append(out, Assignment{Topic: topic, Partition: p, Offset: OffsetLatest})
		}
	}
	return out, nil
}

func asNonNegativeInt32(v any) (int32, error) {
	n, err := asInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %d", n)
	}
	return int32(n), nil
}

func asValidOffset(v any) (int64, error) {
	n, err := asInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 && n != OffsetLatest {
		return 0, fmt.Errorf("negative offset must be -1 (latest), got %d", n)
	}
	return n, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("must be an integer, got %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", v)
	}
}
