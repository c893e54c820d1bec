// Package fake is an in-memory Broker used by session tests in place
// of a real Kafka cluster, playing the role
// patterns/consumer/example_test.go's embedded NATS server plays for
// the teacher's consumer pattern (DESIGN.md): a minimal, deterministic
// stand-in for the external log-broker collaborator spec.md §1 places
// out of scope.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/hahalml/kasocki/brokeradapter"
)

type partitionKey struct {
	topic     string
	partition int32
}

// Broker implements brokeradapter.Broker entirely in memory. Tests
// call Produce to append records to a (topic, partition) queue before
// or after Assign; PollOne serves them back in offset order.
type Broker struct {
	mu sync.Mutex

	topics  map[string]int32 // topic name -> partition count
	queues  map[partitionKey][]brokeradapter.Record
	cursors map[partitionKey]int
	assigned []partitionKey

	connected bool
	closed    bool
}

// New builds a fake broker exposing the given topics (name -> partition
// count) via Metadata.
func New(topics map[string]int32) *Broker {
	return &Broker{
		topics:  topics,
		queues:  make(map[partitionKey][]brokeradapter.Record),
		cursors: make(map[partitionKey]int),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Broker) Metadata(ctx context.Context) ([]brokeradapter.TopicMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]brokeradapter.TopicMetadata, 0, len(b.topics))
	for name, n := range b.topics {
		out = append(out, brokeradapter.TopicMetadata{Name: name, Partitions: n})
	}
	return out, nil
}

// Assign binds the fake to the given assignments. Offset -1 ("latest")
// starts the cursor after whatever has already been produced;
// non-negative offsets seek directly to that index, clamped to the
// current queue length.
func (b *Broker) Assign(ctx context.Context, assignments []brokeradapter.Assignment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.assigned = b.assigned[:0]
	for _, a := range assignments {
		key := partitionKey{a.Topic, a.Partition}
		b.assigned = append(b.assigned, key)

		q := b.queues[key]
		if a.Offset < 0 {
			b.cursors[key] = len(q)
			continue
		}
		cursor := int(a.Offset)
		if cursor > len(q) {
			cursor = len(q)
		}
		b.cursors[key] = cursor
	}
	return nil
}

// PollOne scans assigned partitions in assignment order and returns
// the first unserved record found, or ErrPollTimeout if none are
// ready — the fake never blocks.
func (b *Broker) PollOne(ctx context.Context) (*brokeradapter.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range b.assigned {
		q := b.queues[key]
		cur := b.cursors[key]
		if cur < len(q) {
			rec := q[cur]
			b.cursors[key] = cur + 1
			return &rec, nil
		}
	}
	return nil, brokeradapter.ErrPollTimeout
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Produce appends a record to a (topic, partition) queue, assigning it
// the next sequential offset within that partition, and returns the
// assigned offset.
func (b *Broker) Produce(topic string, partition int32, key, value []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := partitionKey{topic, partition}
	offset := int64(len(b.queues[k]))
	b.queues[k] = append(b.queues[k], brokeradapter.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Timestamp: time.Now(),
		Key:       key,
		Value:     value,
	})
	return offset
}

// Closed reports whether Disconnect has been called, for tests
// verifying close-idempotence (spec.md §8 P8).
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
