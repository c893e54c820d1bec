package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// OtelConfig mirrors pkg/plugin.ObservabilityConfig, trimmed to the
// fields a metrics-only sink needs (no tracing exporter selection; no
// spans are recorded anywhere in kasocki).
type OtelConfig struct {
	ServiceName    string
	ServiceVersion string
}

// otelSink is the OpenTelemetry-backed default Sink, grounded on
// pkg/plugin.ObservabilityManager.initializeTracing's resource/
// provider construction, adapted from tracing to metrics.
type otelSink struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	instrumentMu sync.Mutex
	counters     map[string]metric.Int64Counter
	gauges       map[string]metric.Float64Gauge
}

// NewOtel builds an OpenTelemetry metrics sink and installs its
// MeterProvider as the global one. No reader or exporter is attached,
// and cmd/kasocki-server serves no /metrics route, so recorded values
// are not exported out of the process.
func NewOtel(ctx context.Context, cfg OtelConfig) (Sink, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)

	return &otelSink{
		provider: provider,
		meter:    provider.Meter("github.com/hahalml/kasocki/session"),
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}, nil
}

// counter and gauge are called from every accepted connection's own
// goroutine (wrapHandler calls CounterInc as the first step of every
// socket event), so the instrument caches need a real lock — a shared
// otelSink instance serves every session in the process.
func (s *otelSink) counter(name string) metric.Int64Counter {
	s.instrumentMu.Lock()
	defer s.instrumentMu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c
	}
	c, _ := s.meter.Int64Counter(name)
	s.counters[name] = c
	return c
}

func (s *otelSink) gauge(name string) metric.Float64Gauge {
	s.instrumentMu.Lock()
	defer s.instrumentMu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g
	}
	g, _ := s.meter.Float64Gauge(name)
	s.gauges[name] = g
	return g
}

func (s *otelSink) CounterInc(ctx context.Context, name string, attrs ...string) {
	s.counter(name).Add(ctx, 1, metric.WithAttributes(toAttrs(attrs)...))
}

func (s *otelSink) GaugeSet(ctx context.Context, name string, value float64, attrs ...string) {
	s.gauge(name).Record(ctx, value, metric.WithAttributes(toAttrs(attrs)...))
}

func (s *otelSink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}

// toAttrs pairs up a flat key,value,key,value... list into otel
// attributes, dropping a trailing unpaired key.
func toAttrs(kv []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, attribute.String(kv[i], kv[i+1]))
	}
	return out
}
