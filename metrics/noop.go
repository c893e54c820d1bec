package metrics

import "context"

// noop is the default Sink when no configuration supplies one
// (spec.md §6.3: "defaults create a minimal logger and a no-op
// metrics recorder").
type noop struct{}

// NoOp returns a Sink that discards everything.
func NoOp() Sink { return noop{} }

func (noop) CounterInc(ctx context.Context, name string, attrs ...string)              {}
func (noop) GaugeSet(ctx context.Context, name string, value float64, attrs ...string) {}
func (noop) Shutdown(ctx context.Context) error                                        { return nil }
