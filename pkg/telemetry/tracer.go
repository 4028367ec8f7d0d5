// Package telemetry sets up OpenTelemetry tracing for message routing.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names accepted in Config.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config configures tracing.
type Config struct {
	Enabled      bool    `yaml:"enabled" split_words:"true"`
	Exporter     string  `yaml:"exporter" split_words:"true" validate:"omitempty,oneof=stdout none"`
	SamplingRate float64 `yaml:"sampling_rate" split_words:"true" validate:"gte=0,lte=1"`
	ServiceName  string  `yaml:"service_name" split_words:"true"`
}

// Common span attribute keys.
var (
	AttrMessageID   = attribute.Key("message.id")
	AttrMessageType = attribute.Key("message.type")
	AttrPriority    = attribute.Key("message.priority")
	AttrAgent       = attribute.Key("agent.name")
	AttrAttempts    = attribute.Key("route.attempts")
	AttrOutcome     = attribute.Key("route.outcome")
	AttrReason      = attribute.Key("route.reason")
)

// Tracer owns a tracer provider and hands out the tracer used by the dispatch loop.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Option configures a Tracer.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	writer   io.Writer
	syncer   bool
}

// WithExporter replaces the configured exporter and exports spans synchronously.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
		o.syncer = true
	}
}

// WithWriter directs the stdout exporter to w.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// New builds a tracer. A disabled config yields a no-op tracer.
func New(cfg Config, opts ...Option) (*Tracer, error) {
	o := &options{writer: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	if !cfg.Enabled && o.exporter == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("switchboard")}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "switchboard"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	exporter := o.exporter
	if exporter == nil {
		switch cfg.Exporter {
		case ExporterStdout, "":
			exp, err := stdouttrace.New(stdouttrace.WithWriter(o.writer), stdouttrace.WithPrettyPrint())
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
			}
			exporter = exp
		case ExporterNone:
		default:
			return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
		}
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		if o.syncer {
			providerOpts = append(providerOpts, sdktrace.WithSyncer(exporter))
		} else {
			providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		}
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer { return t.tracer }

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer: %w", err)
	}
	return nil
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
