package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SERVICE_NAME", "")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "1.5")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "propulsion-simulator" {
		t.Fatalf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio accepted: %v", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}

func TestTracingConfigScenarioThenEnv(t *testing.T) {
	enabled, ratio := true, 0.25
	s := &core.Scenario{Name: "feed-test"}
	s.Tracing = core.TracingSettings{Enabled: &enabled, Exporter: "OTLP", Endpoint: "collector:4317", SampleRatio: &ratio, PhaseSpans: true}

	cfg := TracingConfigFromScenario(s, DefaultTracingConfig())
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || !cfg.PhaseSpans {
		t.Fatalf("scenario block not applied: %+v", cfg)
	}
	if cfg.Scenario != "feed-test" || cfg.ServiceName != "propulsion-simulator" {
		t.Fatalf("scenario = %q, service = %q", cfg.Scenario, cfg.ServiceName)
	}

	env := map[string]string{
		"SIM_TRACING_EXPORTER":     "stdout",
		"SIM_TRACING_PHASE_SPANS":  "false",
		"SIM_TRACING_SAMPLE_RATIO": "-1",
		"SIM_OTLP_ENDPOINT":        "",
	}
	cfg = cfg.WithEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Exporter != "stdout" || cfg.PhaseSpans {
		t.Fatalf("environment did not override scenario: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" || !cfg.Enabled {
		t.Fatalf("unset or invalid variables changed config: %+v", cfg)
	}
}

func TestCycleSamplerDropsPhaseSpans(t *testing.T) {
	params := func(name string) sdktrace.SamplingParameters {
		return sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{1},
			Name:          name,
		}
	}
	phase := core.PhaseSpanPrefix + model.Iteration.String()

	s := NewCycleSampler(TracingConfig{SampleRatio: 1})
	if got := s.ShouldSample(params(core.CycleSpanName)).Decision; got != sdktrace.RecordAndSample {
		t.Fatalf("cycle span decision = %v", got)
	}
	if got := s.ShouldSample(params(phase)).Decision; got != sdktrace.Drop {
		t.Fatalf("phase span decision = %v, want drop", got)
	}

	s = NewCycleSampler(TracingConfig{SampleRatio: 1, PhaseSpans: true})
	if got := s.ShouldSample(params(phase)).Decision; got != sdktrace.RecordAndSample {
		t.Fatalf("phase span with phase spans on = %v", got)
	}
	if !strings.HasSuffix(s.Description(), "+phases") {
		t.Fatalf("description = %q", s.Description())
	}

	s = NewCycleSampler(TracingConfig{SampleRatio: 0})
	if got := s.ShouldSample(params(core.CycleSpanName)).Decision; got != sdktrace.Drop {
		t.Fatalf("zero ratio decision = %v", got)
	}
}

func TestInitTracingExportsRunResource(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Scenario = "feed-test"
	cfg.RunID = "run-42"
	cfg.Output = &buf

	shutdown, err := InitTracing(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(trace.NewNoopTracerProvider()) })

	tracer := otel.Tracer("test")
	ctx, cycle := tracer.Start(context.Background(), core.CycleSpanName)
	_, phase := tracer.Start(ctx, core.PhaseSpanPrefix+model.BackIteration.String())
	phase.End()
	cycle.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{core.CycleSpanName, string(AttrScenario), "feed-test", string(AttrRunID), "run-42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, core.PhaseSpanPrefix) {
		t.Fatalf("phase span exported without phase spans enabled:\n%s", out)
	}
}
