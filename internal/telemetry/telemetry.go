// Package telemetry provides OpenTelemetry metrics and spans for sensor
// ticks.
//
// Metrics are collected by an in-process ManualReader and exposed as a JSON
// snapshot (see Snapshot) rather than pushed to a collector. Spans go to the
// configured TracerProvider, a no-op one by default.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/henriblancke/dagster/internal/ir"
)

// InstrumentationName names the meter and tracer.
const InstrumentationName = "github.com/henriblancke/dagster/sensord"

// Sensor tick attributes.
var (
	AttrSensor     = attribute.Key("sensord.sensor")
	AttrTickStatus = attribute.Key("sensord.tick.status")
	AttrOutputKind = attribute.Key("sensord.output.kind")
	AttrTickID     = attribute.Key("sensord.tick.id")
)

// Metric names.
const (
	MetricTicks     = "sensord.ticks.total"
	MetricInspected = "sensord.events.inspected"
	MetricOutputs   = "sensord.outputs.total"
	MetricDuration  = "sensord.tick.duration"
)

// Provider owns the meter provider and the tick instruments.
type Provider struct {
	reader         *sdkmetric.ManualReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	ticks     metric.Int64Counter
	inspected metric.Int64Counter
	outputs   metric.Int64Counter
	duration  metric.Float64Histogram
}

// Option configures a Provider.
type Option func(*Provider)

// WithTracerProvider sets the provider spans are started on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Provider) { p.tracerProvider = tp }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Provider with its own ManualReader.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		reader:         sdkmetric.NewManualReader(),
		tracerProvider: tracenoop.NewTracerProvider(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "telemetry")

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(p.reader))
	p.meter = p.meterProvider.Meter(InstrumentationName, metric.WithInstrumentationVersion(ir.EngineVersion))
	p.tracer = p.tracerProvider.Tracer(InstrumentationName, trace.WithInstrumentationVersion(ir.EngineVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.ticks, err = p.meter.Int64Counter(MetricTicks,
		metric.WithDescription("Sensor ticks by outcome"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return err
	}

	p.inspected, err = p.meter.Int64Counter(MetricInspected,
		metric.WithDescription("Events examined by sensor ticks"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.outputs, err = p.meter.Int64Counter(MetricOutputs,
		metric.WithDescription("Sensor outputs by kind"),
		metric.WithUnit("{output}"),
	)
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Sensor tick duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	return err
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown meter provider", "error", err)
		return err
	}
	return nil
}

// Tick describes one finished tick.
type Tick struct {
	Sensor    string
	TickID    string
	Status    ir.TickStatus
	Inspected int
	Outputs   []string
	Duration  time.Duration
}

// StartTick starts the span covering one tick of sensor.
func (p *Provider) StartTick(ctx context.Context, sensor, tickID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sensor.tick",
		trace.WithAttributes(AttrSensor.String(sensor), AttrTickID.String(tickID)),
	)
}

// EndTick records the tick metrics and ends span. A non-nil err marks the
// span as failed.
func (p *Provider) EndTick(ctx context.Context, span trace.Span, tick Tick, err error) {
	sensorAttr := AttrSensor.String(tick.Sensor)

	p.ticks.Add(ctx, 1, metric.WithAttributes(sensorAttr, AttrTickStatus.String(string(tick.Status))))
	if tick.Inspected > 0 {
		p.inspected.Add(ctx, int64(tick.Inspected), metric.WithAttributes(sensorAttr))
	}
	for _, kind := range tick.Outputs {
		p.outputs.Add(ctx, 1, metric.WithAttributes(sensorAttr, AttrOutputKind.String(kind)))
	}
	p.duration.Record(ctx, tick.Duration.Seconds(), metric.WithAttributes(sensorAttr))

	span.SetAttributes(
		AttrTickStatus.String(string(tick.Status)),
		attribute.Int("sensord.events.inspected", tick.Inspected),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Point is one data point of a metric snapshot.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Snapshot collects the current metric values. Points are sorted by name,
// then by rendered attributes.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	points := []Point{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			}
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return fmt.Sprint(points[i].Attributes) < fmt.Sprint(points[j].Attributes)
	})
	return points, nil
}

// Value returns the summed value of metric name over the points whose
// attributes include every pair in match.
func Value(points []Point, name string, match map[string]string) int64 {
	var total int64
	for _, pt := range points {
		if pt.Name != name {
			continue
		}
		ok := true
		for k, v := range match {
			if pt.Attributes[k] != v {
				ok = false
				break
			}
		}
		if ok {
			total += pt.Value
		}
	}
	return total
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
