package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/dvelasquez/node-perf/internal/config"
	"github.com/dvelasquez/node-perf/internal/tracing"
)

// retainingExporter keeps spans across Shutdown so they can be inspected
// after the batcher has flushed.
type retainingExporter struct {
	*tracetest.InMemoryExporter
}

func (retainingExporter) Shutdown(context.Context) error { return nil }

func memTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exp, tp.Tracer("test")
}

func attrs(res *resource.Resource) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := tracing.Init(context.Background(), config.TracingConfig{SampleRate: 1}, tracing.RoleSampler)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true without an endpoint")
	}
	_, span := p.Tracer().Start(context.Background(), "iteration")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestRoleServiceNames(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	for role, want := range map[tracing.Role]string{
		tracing.RoleSampler: "perf-sample",
		tracing.RoleTarget:  "perf-target",
	} {
		res, err := tracing.Resource(context.Background(), config.TracingConfig{}, role, "")
		if err != nil {
			t.Fatalf("Resource(%s) error = %v", role, err)
		}
		got := attrs(res)
		if got["service.name"] != want {
			t.Errorf("%s service.name = %q, want %q", role, got["service.name"], want)
		}
		if got["perf.role"] != string(role) {
			t.Errorf("%s perf.role = %q", role, got["perf.role"])
		}
		if _, ok := got["perf.run_label"]; ok {
			t.Errorf("%s has a run label without one configured", role)
		}
	}
}

func TestServiceNamePrecedence(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "from-env")
	ctx := context.Background()

	res, err := tracing.Resource(ctx, config.TracingConfig{}, tracing.RoleTarget, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := attrs(res)["service.name"]; got != "from-env" {
		t.Errorf("service.name = %q, want the environment value", got)
	}

	res, err = tracing.Resource(ctx, config.TracingConfig{ServiceName: "checkout-perf"}, tracing.RoleTarget, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := attrs(res)["service.name"]; got != "checkout-perf" {
		t.Errorf("service.name = %q, want the configured value", got)
	}
}

func TestInitExportsSpansWithRunResource(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	mem := retainingExporter{tracetest.NewInMemoryExporter()}
	p, err := tracing.Init(context.Background(), config.TracingConfig{SampleRate: 1},
		tracing.RoleSampler, tracing.WithRunLabel("baseline"), tracing.WithExporter(mem))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !p.ShouldPropagate() {
		t.Error("sampler should propagate trace context")
	}

	_, span := tracing.StartIterationSpan(context.Background(), p.Tracer(), "sampling", 1)
	tracing.EndSpan(span, nil)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := mem.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := attrs(spans[0].Resource)
	want := map[attribute.Key]string{
		"service.name":            "perf-sample",
		"service.namespace":       "node-perf",
		"perf.role":               "sampler",
		"perf.run_label":          "baseline",
		"process.runtime.version": runtime.Version(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("resource %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestZeroSampleRateDropsRootSpans(t *testing.T) {
	mem := retainingExporter{tracetest.NewInMemoryExporter()}
	p, err := tracing.Init(context.Background(), config.TracingConfig{SampleRate: 0},
		tracing.RoleTarget, tracing.WithExporter(mem))
	if err != nil {
		t.Fatal(err)
	}
	if p.ShouldPropagate() {
		t.Error("target should not inject trace context")
	}
	_, span := p.Tracer().Start(context.Background(), "GET /data")
	span.End()
	_ = p.Shutdown(context.Background())
	if n := len(mem.GetSpans()); n != 0 {
		t.Errorf("exported %d spans at sample rate 0", n)
	}
}

func TestInitExporterProtocols(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"grpc host port", config.TracingConfig{Endpoint: "localhost:4317", Insecure: true}, false},
		{"http url", config.TracingConfig{Endpoint: "http://localhost:4318", Protocol: "http"}, false},
		{"unknown", config.TracingConfig{Endpoint: "localhost:4317", Protocol: "thrift"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tt.cfg, tracing.RoleSampler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if p != nil {
				_ = p.Shutdown(context.Background())
			}
		})
	}
}

func TestNilProvider(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider propagates")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "x")
	span.End()
}

func TestIterationSpanAttributes(t *testing.T) {
	exp, tracer := memTracer(t)

	_, span := tracing.StartIterationSpan(context.Background(), tracer, "warmup", 2)
	tracing.EndSpan(span, nil, attribute.String("perf.label", "baseline"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "warmup iteration" {
		t.Errorf("span name = %q", s.Name)
	}
	got := map[attribute.Key]string{}
	for _, kv := range s.Attributes {
		got[kv.Key] = kv.Value.Emit()
	}
	if got["perf.phase"] != "warmup" || got["perf.iteration"] != "2" || got["perf.label"] != "baseline" {
		t.Errorf("attributes = %v", got)
	}
	if s.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status.Code)
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exp, tracer := memTracer(t)

	_, span := tracer.Start(context.Background(), "drain")
	tracing.EndSpan(span, context.DeadlineExceeded)

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status.Code)
	}
	if len(s.Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := memTracer(t)

	empty := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), empty)
	if got := empty.Get("Traceparent"); got != "" {
		t.Errorf("traceparent without a span = %q", got)
	}

	ctx, span := tracer.Start(context.Background(), "trigger")
	defer span.End()
	h := make(http.Header)
	tracing.InjectHTTPHeaders(ctx, h)
	if got := h.Get("Traceparent"); len(got) != 55 {
		t.Errorf("traceparent = %q", got)
	}
}

func TestMiddlewareContinuesRemoteTrace(t *testing.T) {
	exp, tracer := memTracer(t)

	parentCtx, parent := tracer.Start(context.Background(), "sampler")
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(parentCtx, headers)
	parent.End()
	exp.Reset()

	var handlerSpan trace.SpanContext
	h := tracing.Middleware(tracer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerSpan = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header = headers
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /data" || spans[0].SpanKind != trace.SpanKindServer {
		t.Errorf("span = %q kind %v", spans[0].Name, spans[0].SpanKind)
	}
	if spans[0].Parent.TraceID() != parent.SpanContext().TraceID() {
		t.Error("server span is not parented on the remote trace")
	}
	if handlerSpan.TraceID() != parent.SpanContext().TraceID() {
		t.Error("handler context does not carry the continued trace")
	}
}
