// Package socketio is the bidirectional event-stream transport named as
// an external collaborator in spec.md §1 and §6.1: a socket delivers
// named events with an optional ack callback, and the session core
// depends only on the narrow Socket interface below — never on a
// concrete transport (the same slot-interface discipline as
// patterns/consumer.BindSlots against plugin.PubSubInterface).
package socketio

import "context"

// AckFunc is the callback a handler invokes exactly once to resolve a
// client-initiated event (spec.md §4.6 step 3): err non-nil reports
// failure, otherwise result is the ack payload. A nil AckFunc means the
// originating event carried no ack callback (e.g. disconnect).
type AckFunc func(err error, result any)

// EventHandler processes one inbound event. ctx is cancelled when the
// owning socket disconnects.
type EventHandler func(ctx context.Context, arg any, ack AckFunc)

// Socket is the narrow transport slot the session core binds its
// event handlers to (spec.md §1 "the socket transport itself").
type Socket interface {
	// ID returns the stable per-connection identifier used as the
	// session id throughout error context and logging.
	ID() string

	// Emit sends a server-initiated event with no ack expected
	// (spec.md §6.1 "message", "ready", "err").
	Emit(event string, payload any) error

	// OnEvent registers the handler invoked for every inbound frame
	// named event. Registering the same event name twice replaces the
	// previous handler.
	OnEvent(event string, handler EventHandler)

	// OnDisconnect registers a handler invoked exactly once when the
	// underlying connection closes, by either party.
	OnDisconnect(handler func())

	// Close terminates the connection from the server side.
	Close() error
}
