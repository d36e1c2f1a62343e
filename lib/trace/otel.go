// Package trace sets up the OpenTelemetry tracer provider used to emit
// per-run, per-user and per-step spans.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/surge/lib/consts"
	"github.com/liuxd6825/surge/lib/strvals"
)

const serviceName = "surge"

// TracerName is the instrumentation scope of every span surge emits.
const TracerName = "github.com/liuxd6825/surge"

var (
	// ErrInvalidTracesOutput indicates that the defined traces output is not valid.
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidURLScheme indicates that the defined exporter URL scheme is not valid.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
)

// TracerProvider provides methods for tracers initialization and shutdown of the
// processing pipeline.
type TracerProvider struct {
	trace.TracerProvider
	shutdown func(ctx context.Context) error
}

type tracerProviderParams struct {
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultTracerProviderParams() tracerProviderParams {
	return tracerProviderParams{
		endpoint: "127.0.0.1:4318",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// NewTracerProvider creates a tracer provider exporting spans over OTLP/HTTP.
func NewTracerProvider(ctx context.Context, params tracerProviderParams) (*TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(params.endpoint),
		otlptracehttp.WithHeaders(params.headers),
	}
	if params.urlPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(params.urlPath))
	}
	if params.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("creating TracerProvider exporter: %w", err)
	}

	return NewSDKTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

// NewSDKTracerProvider wraps an SDK provider built from opts, tagged with the
// surge service resource. Tests use it with a tracetest.SpanRecorder.
func NewSDKTracerProvider(opts ...sdktrace.TracerProviderOption) *TracerProvider {
	opts = append(opts, sdktrace.WithResource(newResource()))
	prov := sdktrace.NewTracerProvider(opts...)

	// keep third-party instrumentation off our pipeline
	otel.SetTracerProvider(noop.NewTracerProvider())

	return &TracerProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}
}

func newResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(consts.Version),
	)
}

// NewNoopTracerProvider creates a new noop TracerProvider.
func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

// DefaultTracer returns the surge tracer of the provider.
func (tp *TracerProvider) DefaultTracer() trace.Tracer {
	return tp.Tracer(TracerName, trace.WithInstrumentationVersion(consts.Version))
}

// Shutdown shuts down the TracerProvider releasing any held computational resources.
// After Shutdown is called, all methods are no-ops.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

// TracerProviderFromConfigLine initializes a new TracerProvider based on the configuration
// specified through input line.
//
// Supported format is: otel[=<scheme>://<host>:<port>/<path>,<other opts>]
// Where the endpoint defaults to 127.0.0.1:4318 over plain HTTP.
// Other opts accept header.<header_name>.
//
// Example: otel=http://127.0.0.1:4318/v1/traces,header.Authorization=token ***
func TracerProviderFromConfigLine(ctx context.Context, line string) (*TracerProvider, error) {
	if line == "" || line == "none" {
		return NewNoopTracerProvider(), nil
	}
	params, err := tracerProviderParamsFromConfigLine(line)
	if err != nil {
		return nil, err
	}

	return NewTracerProvider(ctx, params)
}

func tracerProviderParamsFromConfigLine(line string) (tracerProviderParams, error) {
	params := defaultTracerProviderParams()

	if line == "otel" {
		return params, nil
	}

	traceOutput, _, _ := strings.Cut(line, "=")
	if traceOutput != "otel" {
		return params, fmt.Errorf("%w %q", ErrInvalidTracesOutput, traceOutput)
	}

	tokens, err := strvals.Parse(line)
	if err != nil {
		return params, fmt.Errorf("error while parsing otel configuration %w", err)
	}

	for _, token := range tokens {
		switch key := token.Key; {
		case key == "otel":
			if err := params.parseURL(token.Value); err != nil {
				return params, fmt.Errorf("couldn't parse the otel URL: %w", err)
			}
		case strings.HasPrefix(key, "header."):
			params.headers[strings.TrimPrefix(key, "header.")] = token.Value
		default:
			return params, fmt.Errorf("unknown otel config key %s", key)
		}
	}

	return params, nil
}

func (p *tracerProviderParams) parseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}

	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"

	return nil
}
