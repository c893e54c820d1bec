// Package kerrors is the wire error taxonomy for kasocki sessions.
//
// Each Kind names a failure the socket protocol can surface (spec.md
// §7). Errors travel to the client as a flat JSON object (§6.2); they
// never carry a stack trace over the wire.
package kerrors

import (
	"encoding/json"
	"fmt"
)

// Kind is one of the named error kinds in the wire vocabulary.
type Kind string

const (
	InvalidAssignment Kind = "InvalidAssignment"
	TopicNotAvailable Kind = "TopicNotAvailable"
	AlreadySubscribed Kind = "AlreadySubscribed"
	NotSubscribed     Kind = "NotSubscribed"
	AlreadyStarted    Kind = "AlreadyStarted"
	AlreadyClosing    Kind = "AlreadyClosing"
	InvalidFilter     Kind = "InvalidFilter"
	Deserialization   Kind = "Deserialization"
	// Kasocki is the generic parent kind for anything not named above.
	Kasocki Kind = "Kasocki"
)

// Error is a kasocki taxonomy error. It implements the standard error
// interface and serializes to the §6.2 wire shape.
type Error struct {
	Kind    Kind
	Message string
	Socket  string

	// Context holds kind-specific fields (availableTopics, assignments,
	// filters, originalError, ...), rendered under their own key.
	Context map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.Socket != "" {
		return fmt.Sprintf("%s: %s (socket=%s)", e.Kind, e.Message, e.Socket)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, kerrors.New(kerrors.NotSubscribed).Build()).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON renders the §6.2 wire shape: name, message, socket, and
// any kind-specific context fields flattened alongside them.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Context)+3)
	for k, v := range e.Context {
		out[k] = v
	}
	out["name"] = string(e.Kind)
	out["message"] = e.Message
	out["socket"] = e.Socket
	return json.Marshal(out)
}

// Builder constructs an Error with a fluent API, mirroring the teacher's
// ErrorBuilder but over a plain struct instead of a generated protobuf
// message (see DESIGN.md).
type Builder struct {
	err *Error
}

// New starts building an Error of the given kind.
func New(kind Kind) *Builder {
	return &Builder{err: &Error{Kind: kind, Context: map[string]any{}}}
}

// Wrap builds a Kasocki-kind error wrapping an arbitrary cause, the
// generic fallback named in spec.md §7.
func Wrap(cause error, message string) *Builder {
	b := New(Kasocki).WithMessage(message)
	b.err.cause = cause
	if message == "" {
		b.err.Message = cause.Error()
	}
	return b
}

func (b *Builder) WithMessage(msg string) *Builder {
	b.err.Message = msg
	return b
}

func (b *Builder) WithMessagef(format string, args ...any) *Builder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) WithSocket(socket string) *Builder {
	b.err.Socket = socket
	return b
}

func (b *Builder) WithContext(key string, value any) *Builder {
	b.err.Context[key] = value
	return b
}

func (b *Builder) WithCause(cause error) *Builder {
	b.err.cause = cause
	if cause != nil {
		b.err.Context["originalError"] = cause.Error()
	}
	return b
}

func (b *Builder) Build() *Error {
	return b.err
}

// Common constructors, one per kind named in spec.md §7.

func NewInvalidAssignment(msg string) *Error {
	return New(InvalidAssignment).WithMessage(msg).Build()
}

func NewTopicNotAvailable(topic string, available []string) *Error {
	return New(TopicNotAvailable).
		WithMessagef("topic %q is not in availableTopics", topic).
		WithContext("availableTopics", available).
		Build()
}

func NewAlreadySubscribed() *Error {
	return New(AlreadySubscribed).WithMessage("session is already subscribed").Build()
}

func NewNotSubscribed() *Error {
	return New(NotSubscribed).WithMessage("session has not subscribed yet").Build()
}

func NewAlreadyStarted() *Error {
	return New(AlreadyStarted).WithMessage("push-mode delivery is already running").Build()
}

func NewAlreadyClosing() *Error {
	return New(AlreadyClosing).WithMessage("session is closing").Build()
}

func NewInvalidFilter(msg string) *Error {
	return New(InvalidFilter).WithMessage(msg).Build()
}

func NewDeserialization(cause error, topic string, partition int32, offset int64) *Error {
	return New(Deserialization).
		WithMessagef("failed to deserialize message at %s[%d]@%d", topic, partition, offset).
		WithCause(cause).
		Build()
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); !ok {
		return "", false
	}
	return e.Kind, true
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
