package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hahalml/kasocki/assignment"
	"github.com/hahalml/kasocki/brokeradapter"
	"github.com/hahalml/kasocki/filter"
	"github.com/hahalml/kasocki/kerrors"
	"github.com/hahalml/kasocki/socketio"
)

// wrapHandler is the handler-wrap of spec.md §4.6: every socket event
// is logged on entry, counted in the metrics sink, run to a single
// (result, error) outcome, and that outcome is delivered to the ack
// callback (if any) and — on failure — re-emitted as an "err" event so
// push-mode clients without an ack still observe it.
func (s *Session) wrapHandler(event string, fn func(ctx context.Context, arg any) (any, error)) socketio.EventHandler {
	return func(ctx context.Context, arg any, ack socketio.AckFunc) {
		s.logger.Info("handling event", "event", event)
		s.metrics.CounterInc(ctx, "kasocki_handler_total", "event", event)

		result, err := fn(ctx, arg)
		if err != nil {
			kerr := normalizeError(err, s.id, event)
			s.logger.Error("handler failed", "event", event, "error", kerr)
			if ack != nil {
				ack(kerr, nil)
			}
			if emitErr := s.socket.Emit("err", kerr); emitErr != nil {
				s.logger.Warn("failed to emit err event", "error", emitErr)
			}
			return
		}

		if ack != nil {
			ack(nil, result)
		}
	}
}

// normalizeError wraps a bare error into the kasocki taxonomy (spec.md
// §4.6 step 4), tagging it with the session id and event name, unless
// it is already a *kerrors.Error.
func normalizeError(err error, socketID, event string) *kerrors.Error {
	var kerr *kerrors.Error
	if errors.As(err, &kerr) {
		if kerr.Socket == "" {
			kerr.Socket = socketID
		}
		return kerr
	}
	return kerrors.New(kerrors.Kasocki).
		WithMessage(err.Error()).
		WithCause(err).
		WithSocket(socketID).
		WithContext("event", event).
		Build()
}

// handleSubscribe implements the Ready -> Subscribed transition and
// the Subscribed -> Subscribed (AlreadySubscribed) self-loop of
// spec.md §4.1, via assignment.Validate (spec.md §4.2).
func (s *Session) handleSubscribe(ctx context.Context, arg any) (any, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyClosing()
	}
	if s.subscribed {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadySubscribed()
	}
	s.mu.Unlock()

	assigns, err := assignment.Validate(arg, s.availableTopics, s.topicMeta)
	if err != nil {
		return nil, err
	}

	if err := s.broker.Assign(ctx, toBrokerAssignments(assigns)); err != nil {
		return nil, kerrors.New(kerrors.Kasocki).
			WithMessagef("broker assign failed: %v", err).
			WithCause(err).
			Build()
	}

	s.mu.Lock()
	s.subscribed = true
	s.state = StateSubscribed
	s.mu.Unlock()

	return assigns, nil
}

// handleFilter installs or resets the matcher (spec.md §4.3). Filter
// changes are permitted in any post-Ready state; passing a nil/empty
// spec resets to match-all.
func (s *Session) handleFilter(ctx context.Context, arg any) (any, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyClosing()
	}
	s.mu.Unlock()

	var spec filter.Spec
	if arg != nil {
		m, ok := arg.(map[string]any)
		if !ok {
			return nil, kerrors.NewInvalidFilter(fmt.Sprintf("filter argument must be an object, got %T", arg))
		}
		spec = filter.Spec(m)
	}

	matcher, err := s.matcherFactory(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.matcher = matcher
	s.mu.Unlock()

	return matcher.Render(), nil
}

// handleConsume is the pull-mode event: the next matched message, or
// NotSubscribed if subscribe hasn't happened yet (spec.md §4.1, §6.1).
// Rejected with AlreadyStarted while the push loop is running: spec.md
// §5 requires "at most one outstanding broker-poll at a time per
// session", and the broker adapter's ReadMessage is not safe to call
// from two goroutines at once, so pull and push must never overlap.
func (s *Session) handleConsume(ctx context.Context, arg any) (any, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyClosing()
	}
	if !s.subscribed {
		s.mu.Unlock()
		return nil, kerrors.NewNotSubscribed()
	}
	if s.running {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyStarted()
	}
	s.mu.Unlock()

	msg, err := s.consumeOne(ctx)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// handleStart transitions Subscribed -> Running (or Paused -> Running)
// and begins the detached push loop (spec.md §4.1, §4.5).
func (s *Session) handleStart(ctx context.Context, arg any) (any, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyClosing()
	}
	if !s.subscribed {
		s.mu.Unlock()
		return nil, kerrors.NewNotSubscribed()
	}
	if s.running {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyStarted()
	}

	s.running = true
	s.state = StateRunning
	pushCtx, cancel := context.WithCancel(context.Background())
	s.pushCancel = cancel
	done := make(chan struct{})
	s.pushDone = done
	s.mu.Unlock()

	go s.pushLoop(pushCtx, done)

	return "ok", nil
}

// handleStop transitions Running -> Paused, cancelling the push loop.
// A stop while already Paused is a logged no-op (spec.md §4.1 table).
func (s *Session) handleStop(ctx context.Context, arg any) (any, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, kerrors.NewAlreadyClosing()
	}
	if !s.running {
		s.mu.Unlock()
		s.logger.Info("stop received with no active push loop, no-op")
		return "ok", nil
	}

	s.running = false
	s.state = StatePaused
	cancel := s.pushCancel
	done := s.pushDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return "ok", nil
}

// handleDisconnect is the explicit client-initiated disconnect event;
// handleSocketDisconnect is the transport-level hook fired when the
// connection drops for any other reason. Both converge on teardown,
// which is idempotent (spec.md §8 P8).
func (s *Session) handleDisconnect(ctx context.Context, arg any) (any, error) {
	s.teardown(ctx)
	return nil, nil
}

func (s *Session) handleSocketDisconnect() {
	s.teardown(context.Background())
}

// teardown flips closing (terminal, spec.md §3) and releases the
// broker handle exactly once, per the broker-disconnect hazards note
// in spec.md §9: stop the loop first, drain the in-flight poll by
// cancelling its context, then disconnect with a bounded timeout.
func (s *Session) teardown(ctx context.Context) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.state = StateClosed
	running := s.running
	s.running = false
	cancel := s.pushCancel
	done := s.pushDone
	s.mu.Unlock()

	if running && cancel != nil {
		cancel()
		if done != nil {
			<-done
		}
	}

	disconnectCtx, cancelTimeout := context.WithTimeout(context.Background(), s.cfg.DisconnectTimeout)
	defer cancelTimeout()
	if err := s.broker.Disconnect(disconnectCtx); err != nil {
		s.logger.Warn("broker disconnect returned error", "error", err)
	}

	s.logger.Info("session closed")
}

func toBrokerAssignments(in []assignment.Assignment) []brokeradapter.Assignment {
	out := make([]brokeradapter.Assignment, len(in))
	for i, a := range in {
		out[i] = brokeradapter.Assignment{Topic: a.Topic, Partition: a.Partition, Offset: a.Offset}
	}
	return out
}
