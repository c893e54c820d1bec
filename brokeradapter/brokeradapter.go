// Package brokeradapter is the thin wrapper over the external
// log-broker client (spec.md §2, §4.5, §9): connect, list metadata,
// assign, poll-one, disconnect. It is the only place that imports a
// concrete Kafka client; everything above it (session) depends on the
// Broker interface.
package brokeradapter

import (
	"context"
	"errors"
	"time"
)

// ErrEndOfPartition signals the benign "reached the end of the log"
// broker condition (spec.md §4.5): absorbed by the consume loop with a
// short backoff, never surfaced to the client.
var ErrEndOfPartition = errors.New("brokeradapter: end of partition")

// ErrPollTimeout signals the benign "poll timed out with nothing ready"
// broker condition (spec.md §4.5).
var ErrPollTimeout = errors.New("brokeradapter: poll timed out")

// Record is one message read from the broker.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
}

// TopicMetadata describes one topic's partition layout.
type TopicMetadata struct {
	Name       string
	Partitions int32
}

// Assignment is the broker-facing form of a (topic, partition, offset)
// read position (spec.md §3).
type Assignment struct {
	Topic     string
	Partition int32
	Offset    int64 // -1 means "latest"; the adapter resolves it on Assign.
}

// Broker is the external log-broker collaborator named in spec.md §1
// and §2: a connect/list-metadata/assign/poll-one/disconnect surface
// with no consumer-group coordination (spec.md §1 Non-goals) — every
// session fabricates its own group identity and calls Assign directly,
// the "no-rebalance group trick" of spec.md §9.
type Broker interface {
	// Connect establishes the broker connection. Called once per
	// session at Init (spec.md §4.1 "Init" state).
	Connect(ctx context.Context) error

	// Metadata lists all topics visible to this connection.
	Metadata(ctx context.Context) ([]TopicMetadata, error)

	// Assign binds this broker handle to the given assignments. May be
	// called at most once per session (spec.md §1 Non-goals: "No
	// support for changing assignments after first subscribe").
	Assign(ctx context.Context, assignments []Assignment) error

	// PollOne blocks for up to the adapter's configured timeout and
	// returns the next available record for any assigned
	// (topic, partition). Returns ErrEndOfPartition or ErrPollTimeout
	// for benign conditions; any other error is a hard broker error
	// (spec.md §7).
	PollOne(ctx context.Context) (*Record, error)

	// Disconnect releases the broker handle. Must be safe to call
	// exactly once; subsequent calls are no-ops (spec.md §3 invariant,
	// §8 P8).
	Disconnect(ctx context.Context) error
}
