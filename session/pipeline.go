package session

import (
	"context"
	"errors"
	"time"

	"github.com/hahalml/kasocki/brokeradapter"
	"github.com/hahalml/kasocki/deserialize"
)

// consumeOne is the one-message primitive of spec.md §4.5: poll,
// deserialize, match, return. Benign broker conditions are absorbed
// with a short backoff and retried; deserialization failures and
// filter misses are skipped and the loop advances to the next
// record; any other broker error propagates to the caller. A nil,
// nil return means the pipeline was absorbed by a closing session or
// a cancelled context — the caller (pull handler or push loop) treats
// that as "nothing to deliver", not as an error.
func (s *Session) consumeOne(ctx context.Context) (map[string]any, error) {
	for {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return nil, nil
		}

		s.pollMu.Lock()
		rec, err := s.broker.PollOne(ctx)
		s.pollMu.Unlock()
		if err != nil {
			if errors.Is(err, brokeradapter.ErrEndOfPartition) || errors.Is(err, brokeradapter.ErrPollTimeout) {
				select {
				case <-ctx.Done():
					return nil, nil
				case <-time.After(s.benignBackoff()):
				}
				continue
			}
			s.logger.Error("broker poll failed", "error", err)
			return nil, err
		}

		msg, derr := deserialize.Run(s.deserializer, deserialize.Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Timestamp: rec.Timestamp,
			Key:       rec.Key,
			Payload:   rec.Value,
		})
		if derr != nil {
			s.logger.Warn("deserialization failed, skipping message",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", derr)
			continue
		}

		s.mu.Lock()
		matcher := s.matcher
		s.mu.Unlock()
		if !matcher.Evaluate(msg) {
			continue
		}

		return msg, nil
	}
}

// pushLoop is the detached push-mode delivery loop of spec.md §4.5: it
// repeatedly calls consumeOne and emits each result as a "message"
// event until cancelled by stop/disconnect (ctx.Done) or the session
// closes mid-poll (a nil, nil consumeOne result).
func (s *Session) pushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.consumeOne(ctx)
		if err != nil {
			kerr := normalizeError(err, s.id, "start")
			s.logger.Error("push loop consume failed", "error", kerr)
			if emitErr := s.socket.Emit("err", kerr); emitErr != nil {
				s.logger.Warn("failed to emit err event", "error", emitErr)
			}
			return
		}
		if msg == nil {
			return
		}

		if err := s.socket.Emit("message", msg); err != nil {
			s.logger.Warn("failed to emit message", "error", err)
		}
	}
}
