// Package metrics is the metrics-sink collaborator named in spec.md
// §2 and §6.3 ("defaults create ... a no-op metrics recorder"),
// adapted from pkg/plugin.ObservabilityManager's OpenTelemetry wiring.
package metrics

import "context"

// Sink is the narrow interface the session core's handler-wrap
// depends on (spec.md §4.6 step 2: "a per-event counter is bumped").
type Sink interface {
	// CounterInc increments the named counter by one, tagged with the
	// given key-value attribute pairs (event name, session id, ...).
	CounterInc(ctx context.Context, name string, attrs ...string)

	// GaugeSet records an instantaneous value for the named gauge.
	GaugeSet(ctx context.Context, name string, value float64, attrs ...string)

	// Shutdown releases any exporter resources. Safe to call once.
	Shutdown(ctx context.Context) error
}
