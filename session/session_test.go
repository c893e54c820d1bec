package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hahalml/kasocki/brokeradapter/fake"
	"github.com/hahalml/kasocki/kerrors"
	"github.com/hahalml/kasocki/session"
	"github.com/hahalml/kasocki/sessionconfig"
	"github.com/hahalml/kasocki/socketio"
)

// fakeSocket is a minimal in-process socketio.Socket double, in the
// spirit of patterns/consumer/example_test.go's channel-based message
// collection: Emit appends to an in-memory log instead of writing to a
// wire, and trigger() drives a registered handler synchronously so
// tests can assert on the (result, error) it acks with.
type fakeSocket struct {
	id string

	mu       sync.Mutex
	handlers map[string]socketio.EventHandler
	emitted  []emittedEvent
	onDisc   []func()
	closed   bool
}

type emittedEvent struct {
	event   string
	payload any
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id, handlers: make(map[string]socketio.EventHandler)}
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, emittedEvent{event, payload})
	return nil
}

func (s *fakeSocket) OnEvent(event string, handler socketio.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

func (s *fakeSocket) OnDisconnect(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisc = append(s.onDisc, handler)
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) emittedEvents(event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, e := range s.emitted {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

// trigger synchronously invokes the handler registered for event and
// blocks until its ack callback fires; the test fails if the handler
// has not acked within one second.
func (s *fakeSocket) trigger(t *testing.T, event string, arg any) (result any, err error) {
	t.Helper()
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler registered for event %q", event)
	}

	done := make(chan struct{})
	h(context.Background(), arg, func(ackErr error, ackResult any) {
		err = ackErr
		result = ackResult
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler for %q never acked", event)
	}
	return result, err
}

func newTestSession(t *testing.T, topics map[string]int32) (*session.Session, *fakeSocket, *fake.Broker) {
	t.Helper()
	sock := newFakeSocket("sock-1")
	broker := fake.New(topics)
	cfg := sessionconfig.Default()
	cfg.BenignBackoff = 5 * time.Millisecond

	s := session.New(sock, broker, cfg, nil, nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, sock, broker
}

func TestStart_EmitsReadyWithAvailableTopics(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1, "payments": 2})

	ready := sock.emittedEvents("ready")
	if len(ready) != 1 {
		t.Fatalf("expected one ready event, got %d", len(ready))
	}
	topics, ok := ready[0].([]string)
	if !ok || len(topics) != 2 {
		t.Fatalf("unexpected ready payload: %#v", ready[0])
	}
}

func TestStart_NoAvailableTopicsClosesSocket(t *testing.T) {
	sock := newFakeSocket("sock-empty")
	broker := fake.New(map[string]int32{"orders": 1})
	cfg := sessionconfig.Default()
	cfg.AllowedTopics = []string{"nonexistent"}

	s := session.New(sock, broker, cfg, nil, nil, nil, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when no topics survive the allow-list")
	}

	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()
	if !closed {
		t.Error("expected socket to be closed on init failure")
	}
	_ = s
}

func TestSubscribeByTopicName(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 2})

	result, err := sock.trigger(t, "subscribe", "orders")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if result == nil {
		t.Fatal("expected non-nil assignment result")
	}
}

func TestSubscribeTwiceFails(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", "orders"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}

	_, err := sock.trigger(t, "subscribe", "orders")
	if err == nil {
		t.Fatal("expected second subscribe to fail")
	}
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.AlreadySubscribed {
		t.Fatalf("expected AlreadySubscribed, got %v", err)
	}
}

func TestConsumeWithoutSubscribeFails(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	_, err := sock.trigger(t, "consume", nil)
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.NotSubscribed {
		t.Fatalf("expected NotSubscribed, got %v", err)
	}
}

func TestConsumeDeliversMatchedMessage(t *testing.T) {
	_, sock, broker := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", []any{map[string]any{
		"topic": "orders", "partition": 0, "offset": 0,
	}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	broker.Produce("orders", 0, nil, []byte(`{"kind":"created","amount":42}`))

	result, err := sock.trigger(t, "consume", nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	msg, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected consume result type %T", result)
	}
	if msg["kind"] != "created" {
		t.Errorf("expected kind=created, got %v", msg["kind"])
	}
}

func TestFilterSkipsNonMatchingMessages(t *testing.T) {
	_, sock, broker := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", []any{map[string]any{
		"topic": "orders", "partition": 0, "offset": 0,
	}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := sock.trigger(t, "filter", map[string]any{"kind": "shipped"}); err != nil {
		t.Fatalf("filter: %v", err)
	}

	broker.Produce("orders", 0, nil, []byte(`{"kind":"created"}`))
	broker.Produce("orders", 0, nil, []byte(`{"kind":"shipped"}`))

	result, err := sock.trigger(t, "consume", nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	msg := result.(map[string]any)
	if msg["kind"] != "shipped" {
		t.Errorf("expected filter to skip to kind=shipped, got %v", msg["kind"])
	}
}

func TestStartStopPushMode(t *testing.T) {
	_, sock, broker := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", []any{map[string]any{
		"topic": "orders", "partition": 0, "offset": 0,
	}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	broker.Produce("orders", 0, nil, []byte(`{"n":1}`))

	if _, err := sock.trigger(t, "start", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if len(sock.emittedEvents("message")) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for pushed message")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := sock.trigger(t, "stop", nil); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := sock.trigger(t, "start", nil); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	if _, err := sock.trigger(t, "stop", nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", "orders"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := sock.trigger(t, "start", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sock.trigger(t, "stop", nil)

	_, err := sock.trigger(t, "start", nil)
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.AlreadyStarted {
		t.Fatalf("expected AlreadyStarted, got %v", err)
	}
}

func TestConsumeRejectedWhilePushRunning(t *testing.T) {
	_, sock, broker := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "subscribe", []any{map[string]any{
		"topic": "orders", "partition": 0, "offset": 0,
	}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	broker.Produce("orders", 0, nil, []byte(`{"n":1}`))

	if _, err := sock.trigger(t, "start", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sock.trigger(t, "stop", nil)

	_, err := sock.trigger(t, "consume", nil)
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.AlreadyStarted {
		t.Fatalf("expected AlreadyStarted when consuming while the push loop runs, got %v", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s, sock, broker := newTestSession(t, map[string]int32{"orders": 1})
	_ = s

	if _, err := sock.trigger(t, "disconnect", nil); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if _, err := sock.trigger(t, "disconnect", nil); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if !broker.Closed() {
		t.Error("expected broker to be disconnected")
	}
}

func TestPostCloseHandlersReportAlreadyClosing(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	if _, err := sock.trigger(t, "disconnect", nil); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	_, err := sock.trigger(t, "subscribe", "orders")
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.AlreadyClosing {
		t.Fatalf("expected AlreadyClosing after close, got %v", err)
	}
}

func TestSubscribeRejectsUnavailableTopicWithoutStateChange(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	_, err := sock.trigger(t, "subscribe", "not-a-real-topic")
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.TopicNotAvailable {
		t.Fatalf("expected TopicNotAvailable, got %v", err)
	}

	// subscribed must still be false: a follow-up consume reports
	// NotSubscribed rather than proceeding on a half-applied assignment.
	_, err = sock.trigger(t, "consume", nil)
	if !errors.As(err, &kerr) || kerr.Kind != kerrors.NotSubscribed {
		t.Fatalf("expected NotSubscribed after rejected subscribe, got %v", err)
	}
}

func TestInvalidFilterEmitsErrEvent(t *testing.T) {
	_, sock, _ := newTestSession(t, map[string]int32{"orders": 1})

	_, err := sock.trigger(t, "filter", "not-an-object")
	if err == nil {
		t.Fatal("expected invalid filter argument to fail")
	}

	errs := sock.emittedEvents("err")
	if len(errs) != 1 {
		t.Fatalf("expected handler-wrap to emit one err event, got %d", len(errs))
	}
}
