package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/meszmate/inbox"

// Config contains telemetry settings
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	Insecure       bool
	SampleRate     float64
}

// Provider records traces and metrics for stanza processing. A nil
// *Provider is valid and records nothing.
type Provider struct {
	config        Config
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider

	stanzas     metric.Int64Counter
	replies     metric.Int64Counter
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
}

// New creates a provider. When cfg.Enabled is true spans and metrics are
// exported over OTLP/HTTP, otherwise the global (no-op by default) tracer
// and meter are used.
func New(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "inbox"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}

	p := &Provider{config: cfg}

	if cfg.Enabled {
		res, err := p.resource()
		if err != nil {
			return nil, err
		}
		if err := p.initTracing(res); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		if err := p.initMeterProvider(res); err != nil {
			_ = p.traceProvider.Shutdown(context.Background())
			return nil, fmt.Errorf("init meter provider: %w", err)
		}
	}

	p.tracer = otel.Tracer(instrumentationName)
	if err := p.useMeter(otel.Meter(instrumentationName)); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return p, nil
}

func (p *Provider) resource() (*resource.Resource, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", p.config.ServiceName),
			attribute.String("service.version", p.config.ServiceVersion),
			attribute.String("deployment.environment", p.config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

func (p *Provider) initTracing(res *resource.Resource) error {
	opts := []otlptracehttp.Option{}
	if p.config.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(p.config.OTLPEndpoint))
	}
	if len(p.config.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(p.config.OTLPHeaders))
	}
	if p.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	p.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(p.config.SampleRate)),
	)

	otel.SetTracerProvider(p.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return nil
}

// initMeterProvider installs a global meter provider that pushes to the
// same collector as the trace exporter.
func (p *Provider) initMeterProvider(res *resource.Resource) error {
	opts := []otlpmetrichttp.Option{}
	if p.config.OTLPEndpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpoint(p.config.OTLPEndpoint))
	}
	if len(p.config.OTLPHeaders) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(p.config.OTLPHeaders))
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

// useMeter creates the instruments on m
func (p *Provider) useMeter(m metric.Meter) error {
	p.meter = m
	var err error

	p.stanzas, err = p.meter.Int64Counter(
		"inbox_stanzas_total",
		metric.WithDescription("Inbound message stanzas by outcome and category"),
	)
	if err != nil {
		return fmt.Errorf("create stanzas counter: %w", err)
	}

	p.replies, err = p.meter.Int64Counter(
		"inbox_receipt_replies_total",
		metric.WithDescription("Receipt replies sent by kind and status"),
	)
	if err != nil {
		return fmt.Errorf("create replies counter: %w", err)
	}

	p.transitions, err = p.meter.Int64Counter(
		"inbox_receipt_transitions_total",
		metric.WithDescription("Applied receipt state transitions"),
	)
	if err != nil {
		return fmt.Errorf("create transitions counter: %w", err)
	}

	p.duration, err = p.meter.Float64Histogram(
		"inbox_stanza_duration_seconds",
		metric.WithDescription("Time spent processing one inbound stanza"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create duration histogram: %w", err)
	}

	return nil
}

// StartStanza opens a span around the processing of one stanza.
func (p *Provider) StartStanza(ctx context.Context, stanzaType, transportID, from string) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "inbox.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("xmpp.stanza.type", stanzaType),
			attribute.String("xmpp.stanza.id", transportID),
			attribute.String("xmpp.from", from),
		),
	)
}

// EndSpan finishes span, recording err if set.
func (p *Provider) EndSpan(span trace.Span, outcome string, err error) {
	if p == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("inbox.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordStanza counts a processed stanza.
func (p *Provider) RecordStanza(ctx context.Context, outcome, category string, d time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("category", category),
	)
	p.stanzas.Add(ctx, 1, attrs)
	p.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordReply counts a receipt reply.
func (p *Provider) RecordReply(ctx context.Context, kind string, err error) {
	if p == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.replies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordTransition counts an applied receipt state transition.
func (p *Provider) RecordTransition(ctx context.Context, from, to string) {
	if p == nil {
		return
	}
	p.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Shutdown flushes and stops the trace and metric exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.traceProvider != nil {
		errs = append(errs, p.traceProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
