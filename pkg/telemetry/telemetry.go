// Package telemetry sets up OpenTelemetry metrics for recording sessions and
// exposes the counters the processor and session manager report into.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// MeterName scopes every instrument created by this package.
const MeterName = "github.com/offlinefirst/stepcapture"

// Options configure Setup.
type Options struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	Interval    time.Duration
}

// Providers holds the meter provider and a shutdown function.
type Providers struct {
	MeterProvider *metric.MeterProvider
	Shutdown      func(context.Context) error
}

// Setup returns a MeterProvider exporting over OTLP gRPC. When disabled or no
// endpoint is configured the provider records locally and Shutdown is a no-op.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if !opts.Enabled || endpoint == "" {
		return &Providers{
			MeterProvider: metric.NewMeterProvider(),
			Shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	target, insecure, err := normalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	insecure = insecure || opts.Insecure

	name := opts.ServiceName
	if name == "" {
		name = "stepcapture"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(name),
		),
	)
	if err != nil {
		return nil, err
	}

	exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if insecure {
		exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(interval))),
	)
	return &Providers{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}

// normalizeEndpoint reduces a URL or host:port to the gRPC dial target.
func normalizeEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

// Metrics records pipeline counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	steps      otelmetric.Int64Counter
	skipped    otelmetric.Int64Counter
	dropped    otelmetric.Int64Counter
	fallbacks  otelmetric.Int64Counter
	ocrLatency otelmetric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, errors.New("meter is required")
	}
	var (
		m    Metrics
		err  error
		errs []error
	)
	m.steps, err = meter.Int64Counter("stepcapture.steps",
		otelmetric.WithDescription("Tutorial steps emitted"), otelmetric.WithUnit("{step}"))
	errs = append(errs, err)
	m.skipped, err = meter.Int64Counter("stepcapture.events.skipped",
		otelmetric.WithDescription("Events consumed without producing a step"), otelmetric.WithUnit("{event}"))
	errs = append(errs, err)
	m.dropped, err = meter.Int64Counter("stepcapture.queue.dropped",
		otelmetric.WithDescription("Events evicted or discarded at the queue"), otelmetric.WithUnit("{event}"))
	errs = append(errs, err)
	m.fallbacks, err = meter.Int64Counter("stepcapture.ocr.fallbacks",
		otelmetric.WithDescription("Click steps described by position instead of text"), otelmetric.WithUnit("{step}"))
	errs = append(errs, err)
	m.ocrLatency, err = meter.Float64Histogram("stepcapture.ocr.latency",
		otelmetric.WithDescription("Time spent recognising click regions"), otelmetric.WithUnit("ms"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return &m, nil
}

// StepEmitted counts an emitted step by type.
func (m *Metrics) StepEmitted(ctx context.Context, stepType string) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("step_type", stepType)))
}

// EventSkipped counts an event that produced no step.
func (m *Metrics) EventSkipped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.skipped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

// EventDropped counts queue evictions ("overflow") and paused discards ("paused").
func (m *Metrics) EventDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

// OCRFallback counts a click described by position.
func (m *Metrics) OCRFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

// OCRLatency records one recognition attempt.
func (m *Metrics) OCRLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ocrLatency.Record(ctx, float64(d)/float64(time.Millisecond))
}
