package metrics

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the optional shared-dashboard counter sink
// (spec.md §2's metrics collaborator, extended per SPEC_FULL.md's
// domain-stack wiring for github.com/redis/go-redis/v9).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	KeyPrefix string // default "kasocki:metrics:"
}

// redisSink accumulates event counters in Redis hash fields so several
// kasocki-server processes sharing one Redis instance can be scraped
// into one dashboard. It does not implement gauges (a redis INCR-style
// store has no natural "set" semantics for a point-in-time value
// shared across processes without a last-writer-wins race); GaugeSet
// is a no-op here, matching the optional/secondary role this sink
// plays next to the otel default.
type redisSink struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a Redis-backed counter Sink.
func NewRedis(cfg RedisConfig) Sink {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kasocki:metrics:"
	}
	return &redisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

func (s *redisSink) CounterInc(ctx context.Context, name string, attrs ...string) {
	key := s.prefix + name
	field := strings.Join(attrs, "|")
	if field == "" {
		field = "_"
	}
	s.client.HIncrBy(ctx, key, field, 1)
}

func (s *redisSink) GaugeSet(ctx context.Context, name string, value float64, attrs ...string) {}

func (s *redisSink) Shutdown(ctx context.Context) error {
	return s.client.Close()
}
