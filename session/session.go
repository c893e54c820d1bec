// Package session is the core of kasocki (spec.md §3, §4.1, §4.6, §5):
// the per-socket consumer session state machine, its
// consume/deserialize/filter/emit pipeline, and its handler-wrap,
// adapted from patterns/consumer.Consumer's slot-bound, single
// background-goroutine lifecycle (DESIGN.md).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hahalml/kasocki/brokeradapter"
	"github.com/hahalml/kasocki/deserialize"
	"github.com/hahalml/kasocki/filter"
	"github.com/hahalml/kasocki/metrics"
	"github.com/hahalml/kasocki/sessionconfig"
	"github.com/hahalml/kasocki/socketio"
)

// MatcherFactory compiles a client-supplied filter.Spec into a Matcher
// (spec.md §6.3 "matcherFactory": optional function for alternate
// filter dialects).
type MatcherFactory func(spec filter.Spec) (*filter.Matcher, error)

// defaultMatcherFactory compiles against filter.DefaultLimits.
func defaultMatcherFactory(spec filter.Spec) (*filter.Matcher, error) {
	return filter.Compile(spec, filter.DefaultLimits)
}

// Session is the per-socket consumer session named in spec.md §3
// "SessionState": ownership-exclusive state for one connected socket.
type Session struct {
	id     string
	socket socketio.Socket
	broker brokeradapter.Broker
	cfg    *sessionconfig.Config

	logger         *slog.Logger
	metrics        metrics.Sink
	deserializer   deserialize.Deserializer
	matcherFactory MatcherFactory

	availableTopics []string
	topicMeta       brokerMetadata

	mu         sync.Mutex
	state      State
	subscribed bool
	running    bool
	closing    bool
	matcher    *filter.Matcher

	// pollMu serializes every call into the broker adapter's poll
	// primitive. handleConsume already rejects pull requests while the
	// push loop is running, but that check and the poll itself are not
	// atomic; this mutex is the hard guarantee that at most one
	// PollOne call is in flight at a time (spec.md §5 "at most one
	// outstanding broker-poll at a time per session") regardless of how
	// handler goroutines interleave.
	pollMu sync.Mutex

	pushCancel context.CancelFunc
	pushDone   chan struct{}
}

// brokerMetadata adapts brokeradapter.TopicMetadata into the
// assignment.Metadata interface the validator depends on.
type brokerMetadata map[string]int32

func (m brokerMetadata) Partitions(topic string) (int32, bool) {
	n, ok := m[topic]
	return n, ok
}

// New constructs a Session bound to one accepted socket and one
// unconnected broker handle. Start must be called once to perform the
// Init -> Ready transition before the socket's handlers run.
func New(
	socket socketio.Socket,
	broker brokeradapter.Broker,
	cfg *sessionconfig.Config,
	logger *slog.Logger,
	msink metrics.Sink,
	deserializer deserialize.Deserializer,
	matcherFactory MatcherFactory,
) *Session {
	if cfg == nil {
		cfg = sessionconfig.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = metrics.NoOp()
	}
	if deserializer == nil {
		deserializer = deserialize.Default
	}
	if matcherFactory == nil {
		matcherFactory = defaultMatcherFactory
	}

	return &Session{
		id:             socket.ID(),
		socket:         socket,
		broker:         broker,
		cfg:            cfg,
		logger:         logger.With("session", socket.ID()),
		metrics:        msink,
		deserializer:   deserializer,
		matcherFactory: matcherFactory,
		state:          StateInit,
	}
}

// Start performs the Init transition (spec.md §4.1): connect to the
// broker, fetch metadata, compute availableTopics, and — on success —
// register event handlers and emit ready(availableTopics). On failure
// the broker handle is released and the socket is closed; no ready is
// emitted (spec.md §7 "Init-time failure").
func (s *Session) Start(ctx context.Context) error {
	if err := s.broker.Connect(ctx); err != nil {
		s.logger.Error("broker connect failed", "error", err)
		s.socket.Close()
		return fmt.Errorf("session: connect: %w", err)
	}

	topics, err := s.broker.Metadata(ctx)
	if err != nil {
		s.logger.Error("broker metadata failed", "error", err)
		_ = s.broker.Disconnect(ctx)
		s.socket.Close()
		return fmt.Errorf("session: metadata: %w", err)
	}

	meta := make(brokerMetadata, len(topics))
	for _, t := range topics {
		meta[t.Name] = t.Partitions
	}
	s.topicMeta = meta
	s.availableTopics = computeAvailableTopics(topics, s.cfg.AllowedTopics)

	if len(s.availableTopics) == 0 {
		s.logger.Warn("no available topics after allow-list intersection, closing")
		_ = s.broker.Disconnect(ctx)
		s.socket.Close()
		return errors.New("session: no available topics")
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()

	s.registerHandlers()
	s.socket.OnDisconnect(func() { s.handleSocketDisconnect() })

	if err := s.socket.Emit("ready", s.availableTopics); err != nil {
		s.logger.Warn("failed to emit ready", "error", err)
	}
	return nil
}

func computeAvailableTopics(topics []brokeradapter.TopicMetadata, allowed []string) []string {
	if len(allowed) == 0 {
		out := make([]string, 0, len(topics))
		for _, t := range topics {
			out = append(out, t.Name)
		}
		return out
	}
	allow := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allow[t] = true
	}
	var out []string
	for _, t := range topics {
		if allow[t.Name] {
			out = append(out, t.Name)
		}
	}
	return out
}

// registerHandlers binds every socket event named in spec.md §6.1,
// each run through wrapHandler (spec.md §4.6).
func (s *Session) registerHandlers() {
	s.socket.OnEvent("subscribe", s.wrapHandler("subscribe", s.handleSubscribe))
	s.socket.OnEvent("filter", s.wrapHandler("filter", s.handleFilter))
	s.socket.OnEvent("consume", s.wrapHandler("consume", s.handleConsume))
	s.socket.OnEvent("start", s.wrapHandler("start", s.handleStart))
	s.socket.OnEvent("stop", s.wrapHandler("stop", s.handleStop))
	s.socket.OnEvent("disconnect", s.wrapHandler("disconnect", s.handleDisconnect))
}

// Health reports the session's liveness the way
// patterns/core.Plugin.Health reports a backend plugin's
// (SPEC_FULL.md "Health reporting"): Healthy while running, Degraded
// while subscribed/paused with no active loop, Unhealthy once closing.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (s *Session) Health() HealthState {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closing:
		return HealthUnhealthy
	case s.running:
		return HealthHealthy
	case s.subscribed:
		return HealthDegraded
	default:
		return HealthUnknown
	}
}

// benignBackoff is how long consume() sleeps after a benign broker
// condition before retrying (spec.md §4.5).
func (s *Session) benignBackoff() time.Duration {
	if s.cfg.BenignBackoff > 0 {
		return s.cfg.BenignBackoff
	}
	return 100 * time.Millisecond
}
