package brokeradapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaConfig mirrors pkg/drivers/kafka.KafkaConfig (DESIGN.md), trimmed
// to the fields a per-session consumer actually needs: no producer
// settings, since a kasocki session never publishes.
type KafkaConfig struct {
	Brokers       string // metadata.broker.list
	ClientID      string
	GroupID       string // fabricated per-session, never shared (spec.md §9)
	AutoOffsetReset string // "earliest" or "latest" (spec.md §3, §6.3)

	SASLMechanism string
	SASLUsername  string
	SASLPassword  string

	PollTimeout      time.Duration // default 100ms
	DisconnectTimeout time.Duration // default 5s (spec.md §9)

	// Extra carries any additional raw librdkafka config keys from the
	// client-supplied brokerConfig map (spec.md §6.3), applied after
	// the fields above so a caller can override non-forced settings.
	Extra map[string]any
}

func (c KafkaConfig) toConfigMap() *ck.ConfigMap {
	cm := &ck.ConfigMap{
		"bootstrap.servers":  c.Brokers,
		"client.id":          c.ClientID,
		"group.id":           c.GroupID,
		"auto.offset.reset":  c.AutoOffsetReset,
		"enable.auto.commit": false, // forced: spec.md §6.3, §1 Non-goals
	}

	if c.SASLUsername != "" && c.SASLPassword != "" {
		(*cm)["security.protocol"] = "SASL_SSL"
		(*cm)["sasl.mechanism"] = c.SASLMechanism
		(*cm)["sasl.username"] = c.SASLUsername
		(*cm)["sasl.password"] = c.SASLPassword
	}

	for k, v := range c.Extra {
		(*cm)[k] = v
	}
	return cm
}

// KafkaBroker implements Broker over confluent-kafka-go/v2, adapted
// from pkg/drivers/kafka/kafka.go's KafkaPlugin (DESIGN.md): same
// ConfigMap construction, same ReadMessage/ErrTimedOut benign-error
// handling, same bounded-timeout teardown discipline.
type KafkaBroker struct {
	cfg    KafkaConfig
	logger *slog.Logger

	mu       sync.Mutex
	consumer *ck.Consumer
	closed   bool
}

// NewKafkaBroker constructs an unconnected KafkaBroker.
func NewKafkaBroker(cfg KafkaConfig, logger *slog.Logger) *KafkaBroker {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaBroker{cfg: cfg, logger: logger}
}

func (b *KafkaBroker) Connect(ctx context.Context) error {
	consumer, err := ck.NewConsumer(b.cfg.toConfigMap())
	if err != nil {
		return fmt.Errorf("brokeradapter: connect: %w", err)
	}
	b.mu.Lock()
	b.consumer = consumer
	b.mu.Unlock()

	b.logger.Info("broker connected",
		"brokers", b.cfg.Brokers,
		"group_id", b.cfg.GroupID,
		"client_id", b.cfg.ClientID)
	return nil
}

func (b *KafkaBroker) Metadata(ctx context.Context) ([]TopicMetadata, error) {
	b.mu.Lock()
	consumer := b.consumer
	b.mu.Unlock()
	if consumer == nil {
		return nil, fmt.Errorf("brokeradapter: not connected")
	}

	md, err := consumer.GetMetadata(nil, true, 5000)
	if err != nil {
		return nil, fmt.Errorf("brokeradapter: metadata: %w", err)
	}

	out := make([]TopicMetadata, 0, len(md.Topics))
	for name, topic := range md.Topics {
		out = append(out, TopicMetadata{Name: name, Partitions: int32(len(topic.Partitions))})
	}
	return out, nil
}

func (b *KafkaBroker) Assign(ctx context.Context, assignments []Assignment) error {
	b.mu.Lock()
	consumer := b.consumer
	b.mu.Unlock()
	if consumer == nil {
		return fmt.Errorf("brokeradapter: not connected")
	}

	parts := make([]ck.TopicPartition, 0, len(assignments))
	for _, a := range assignments {
		offset := ck.Offset(a.Offset)
		if a.Offset < 0 {
			offset = ck.OffsetEnd // "latest": start after current end
		}
		topic := a.Topic
		parts = append(parts, ck.TopicPartition{
			Topic:     &topic,
			Partition: a.Partition,
			Offset:    offset,
		})
	}

	if err := consumer.Assign(parts); err != nil {
		return fmt.Errorf("brokeradapter: assign: %w", err)
	}
	b.logger.Info("broker assigned", "count", len(parts))
	return nil
}

func (b *KafkaBroker) PollOne(ctx context.Context) (*Record, error) {
	b.mu.Lock()
	consumer := b.consumer
	b.mu.Unlock()
	if consumer == nil {
		return nil, fmt.Errorf("brokeradapter: not connected")
	}

	msg, err := consumer.ReadMessage(b.cfg.PollTimeout)
	if err != nil {
		if ckErr, ok := err.(ck.Error); ok {
			switch ckErr.Code() {
			case ck.ErrTimedOut:
				return nil, ErrPollTimeout
			case ck.ErrPartitionEOF:
				return nil, ErrEndOfPartition
			}
		}
		return nil, fmt.Errorf("brokeradapter: poll: %w", err)
	}

	return &Record{
		Topic:     *msg.TopicPartition.Topic,
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Timestamp: msg.Timestamp,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

// Disconnect stops the broker handle with a bounded timeout, per the
// "broker-disconnect hazards" note in spec.md §9: the caller (session)
// is responsible for stopping its loop and draining any in-flight poll
// first; Disconnect itself is tracked by a closed flag so repeated
// calls (spec.md §8 P8) are no-ops.
func (b *KafkaBroker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumer := b.consumer
	b.consumer = nil
	b.mu.Unlock()

	if consumer == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- consumer.Close() }()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Warn("broker close returned error", "error", err)
		}
		return nil
	case <-time.After(b.cfg.DisconnectTimeout):
		b.logger.Warn("broker close timed out at teardown, treating as non-fatal")
		return nil
	}
}
