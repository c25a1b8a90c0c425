package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
)

// Resource attributes identifying one simulation run.
const (
	AttrScenario = attribute.Key("sim.scenario")
	AttrRunID    = attribute.Key("sim.run_id")
)

// TracingConfig governs how simulator tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64
	PhaseSpans  bool // keep the per-phase child spans of every cycle

	Scenario string
	RunID    string
	Output   io.Writer // stdout exporter target, os.Stdout when nil
}

// DefaultTracingConfig is tracing switched off with a stdout exporter and
// every cycle sampled once enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "propulsion-simulator",
		Exporter:    "stdout",
		SampleRatio: 1,
	}
}

// TracingConfigFromEnv is DefaultTracingConfig overlaid with the SIM_*
// environment variables.
func TracingConfigFromEnv() TracingConfig {
	return DefaultTracingConfig().WithEnv(os.LookupEnv)
}

// TracingConfigFromScenario overlays the scenario's tracing block on base
// and records the scenario name.
func TracingConfigFromScenario(s *core.Scenario, base TracingConfig) TracingConfig {
	cfg := base
	cfg.Scenario = s.Name
	t := s.Tracing
	if t.Enabled != nil {
		cfg.Enabled = *t.Enabled
	}
	if t.Exporter != "" {
		cfg.Exporter = strings.ToLower(t.Exporter)
	}
	if t.Endpoint != "" {
		cfg.Endpoint = t.Endpoint
	}
	if t.SampleRatio != nil {
		cfg.SampleRatio = *t.SampleRatio
	}
	if t.PhaseSpans {
		cfg.PhaseSpans = true
	}
	return cfg
}

// WithEnv overrides the fields whose environment variable is set and
// non-empty. Out-of-range sample ratios are ignored.
func (c TracingConfig) WithEnv(lookup func(string) (string, bool)) TracingConfig {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	if v, ok := get("SIM_TRACING_ENABLED"); ok {
		c.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := get("SIM_TRACING_EXPORTER"); ok {
		c.Exporter = strings.ToLower(v)
	}
	if v, ok := get("SIM_TRACING_SERVICE_NAME"); ok {
		c.ServiceName = v
	}
	if v, ok := get("SIM_OTLP_ENDPOINT"); ok {
		c.Endpoint = v
	}
	if v, ok := get("SIM_TRACING_SAMPLE_RATIO"); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 && parsed <= 1 {
			c.SampleRatio = parsed
		}
	}
	if v, ok := get("SIM_TRACING_PHASE_SPANS"); ok {
		c.PhaseSpans = strings.EqualFold(v, "true")
	}
	return c
}

// InitTracing wires a tracer provider, exporter, propagators, and sampler based
// on the provided configuration. It returns a shutdown function to flush spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "propulsion"),
	}
	if cfg.Scenario != "" {
		attrs = append(attrs, AttrScenario.String(cfg.Scenario))
	}
	if cfg.RunID != "" {
		attrs = append(attrs, AttrRunID.String(cfg.RunID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := NewCycleSampler(cfg)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("sampler", sampler.Description()),
	)

	return tp.Shutdown, nil
}

// cycleSampler samples whole cycles by trace ID ratio and, unless phase
// spans are requested, drops the per-phase children so a long run exports
// one span per cycle.
type cycleSampler struct {
	next       sdktrace.Sampler
	phaseSpans bool
}

// NewCycleSampler returns the sampler InitTracing installs for cfg.
func NewCycleSampler(cfg TracingConfig) sdktrace.Sampler {
	return cycleSampler{
		next:       sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		phaseSpans: cfg.PhaseSpans,
	}
}

func (s cycleSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if !s.phaseSpans && strings.HasPrefix(p.Name, core.PhaseSpanPrefix) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.next.ShouldSample(p)
}

func (s cycleSampler) Description() string {
	if s.phaseSpans {
		return s.next.Description() + "+phases"
	}
	return s.next.Description()
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes the provided shutdown function with a bounded
// timeout, swallowing errors in the shutdown path.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
