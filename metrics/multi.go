package metrics

import "context"

// multi fans a single Sink call out to several sinks, letting
// cmd/kasocki-server run the otel default alongside the optional
// Redis dashboard sink without session code knowing either exists.
type multi struct {
	sinks []Sink
}

// Multi combines sinks into one. Shutdown tears all of them down,
// returning the first error encountered.
func Multi(sinks ...Sink) Sink {
	return &multi{sinks: sinks}
}

func (m *multi) CounterInc(ctx context.Context, name string, attrs ...string) {
	for _, s := range m.sinks {
		s.CounterInc(ctx, name, attrs...)
	}
}

func (m *multi) GaugeSet(ctx context.Context, name string, value float64, attrs ...string) {
	for _, s := range m.sinks {
		s.GaugeSet(ctx, name, value, attrs...)
	}
}

func (m *multi) Shutdown(ctx context.Context) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
