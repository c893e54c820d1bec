// Package deserialize turns a raw broker record into the decoded
// message object delivered to clients (spec.md §3, §4.4).
package deserialize

import (
	"encoding/json"
	"time"

	"github.com/hahalml/kasocki/kerrors"
)

// OriginKey is the reserved key under which origin metadata is attached
// to every decoded message (spec.md §3 "Message").
const OriginKey = "_kasocki"

// Record is the raw broker record handed to a Deserializer.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Payload   []byte
}

// Origin is the sub-object attached under OriginKey.
type Origin struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	Key       string `json:"key,omitempty"`
}

// Deserializer decodes a raw record into the message object delivered
// to the client. A user-supplied Deserializer (spec.md §4.4, §6.3)
// replaces the default wholesale; any panic/error it raises is wrapped
// by Run as a Deserialization error with the raw record preserved.
type Deserializer func(rec Record) (map[string]any, error)

// Default parses the payload as JSON UTF-8 and augments it with origin
// metadata, per spec.md §4.4. Parse failure raises *kerrors.Error with
// Kind Deserialization.
func Default(rec Record) (map[string]any, error) {
	var msg map[string]any
	if len(rec.Payload) == 0 {
		msg = map[string]any{}
	} else if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return nil, kerrors.NewDeserialization(err, rec.Topic, rec.Partition, rec.Offset)
	}
	if msg == nil {
		// A payload of literal "null" unmarshals into a nil map without
		// error; guard explicitly rather than relying on the Run panic
		// recovery to turn the next line's write into a Deserialization
		// error.
		msg = map[string]any{}
	}

	msg[OriginKey] = Origin{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp.UnixMilli(),
		Key:       string(rec.Key),
	}
	return msg, nil
}

// Run invokes fn, recovering from panics and normalizing any error into
// a Deserialization error that preserves the raw record for logging
// (spec.md §4.4: "any exception it raises is wrapped ... with the
// original error and the raw broker record preserved").
func Run(fn Deserializer, rec Record) (msg map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.New(kerrors.Deserialization).
				WithMessagef("deserializer panicked: %v", r).
				WithContext("rawRecordTopic", rec.Topic).
				WithContext("rawRecordPartition", rec.Partition).
				WithContext("rawRecordOffset", rec.Offset).
				Build()
		}
	}()

	msg, err = fn(rec)
	if err != nil {
		if kind, ok := kerrors.KindOf(err); ok && kind == kerrors.Deserialization {
			return nil, err
		}
		return nil, kerrors.NewDeserialization(err, rec.Topic, rec.Partition, rec.Offset)
	}
	return msg, nil
}
