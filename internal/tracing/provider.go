// Package tracing wires OpenTelemetry export for the sampler and the perf
// target and carries W3C trace context across the trigger/drain requests.
package tracing

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dvelasquez/node-perf/internal/config"
)

// Role is the side of a sampling run a process plays.
type Role string

const (
	RoleSampler Role = "sampler"
	RoleTarget  Role = "target"
)

// ServiceName is the service.name reported for the role unless the config or
// OTEL_SERVICE_NAME says otherwise.
func (r Role) ServiceName() string {
	if r == RoleTarget {
		return "perf-target"
	}
	return "perf-sample"
}

const (
	serviceNamespace    = "node-perf"
	instrumentationName = "github.com/dvelasquez/node-perf/internal/tracing"

	roleKey     = attribute.Key("perf.role")
	runLabelKey = attribute.Key("perf.run_label")
)

type options struct {
	runLabel string
	exporter sdktrace.SpanExporter
}

// Option customizes Init.
type Option func(*options)

// WithRunLabel tags every span of the process with the run label.
func WithRunLabel(label string) Option {
	return func(o *options) { o.runLabel = label }
}

// WithExporter replaces the OTLP exporter. Export is enabled even when no
// endpoint is configured.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// Provider owns the process TracerProvider.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init installs a global TracerProvider for role. Without an endpoint (config
// or OTEL_EXPORTER_OTLP_ENDPOINT) it returns a provider whose tracer is a
// no-op. Only the sampler injects trace headers; the target continues them.
func Init(ctx context.Context, cfg config.TracingConfig, role Role, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.exporter == nil && !cfg.Enabled() {
		return &Provider{}, nil
	}

	res, err := Resource(ctx, cfg, role, o.runLabel)
	if err != nil {
		return nil, err
	}
	exp := o.exporter
	if exp == nil {
		if exp, err = newExporter(ctx, cfg); err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
	}

	// Ratios at or beyond the bounds collapse to always/never sampling.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentationName),
		propagate: role == RoleSampler,
	}, nil
}

// Resource describes the process: service name by precedence config, then
// OTEL_SERVICE_NAME, then the role default; plus role, run label and Go
// runtime version.
func Resource(ctx context.Context, cfg config.TracingConfig, role Role, runLabel string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(role.ServiceName()),
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ProcessRuntimeVersion(runtime.Version()),
		roleKey.String(string(role)),
	}
	if runLabel != "" {
		attrs = append(attrs, runLabelKey.String(runLabel))
	}
	detectors := []resource.Option{
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	}
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		detectors = append(detectors, resource.WithAttributes(semconv.ServiceName(name)))
	}
	res, err := resource.New(ctx, detectors...)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

// Tracer returns the process tracer, or a no-op tracer when export is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// ShouldPropagate reports whether outgoing requests carry traceparent.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// newExporter builds the OTLP exporter. An empty endpoint leaves the
// exporter to read OTEL_EXPORTER_OTLP_ENDPOINT itself.
func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	isURL := strings.Contains(endpoint, "://")

	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		var opts []otlptracegrpc.Option
		switch {
		case isURL:
			opts = append(opts, otlptracegrpc.WithEndpointURL(endpoint))
		case endpoint != "":
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)

	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithCompression(otlptracehttp.GzipCompression)}
		switch {
		case isURL:
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		case endpoint != "":
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
