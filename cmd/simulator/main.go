package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/propulsion-simulator/bus"
	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/internal/observability"
	"github.com/signalsfoundry/propulsion-simulator/internal/telemetry"
	"github.com/signalsfoundry/propulsion-simulator/kb"
	"github.com/signalsfoundry/propulsion-simulator/timectrl"
)

// Config holds the command-line settings for one simulator process.
type Config struct {
	ScenarioPath   string
	MetricsAddress string
	HealthAddress  string
	Accelerated    bool          // overrides engine.realtime
	Duration       time.Duration // overrides engine.duration when > 0
	OutputPath     string        // overrides sampling.output; "-" is stdout
	Stdout         io.Writer
}

func main() {
	cfg := Config{Stdout: os.Stdout}
	flag.StringVar(&cfg.ScenarioPath, "scenario", "configs/feed_system.yaml", "Path to a YAML or JSON scenario")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.HealthAddress, "health-addr", ":50051", "TCP address for the gRPC health service (empty disables)")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "run accelerated even when the scenario asks for real time")
	flag.DurationVar(&cfg.Duration, "duration", 0, "mission length; overrides the scenario when set")
	flag.StringVar(&cfg.OutputPath, "output", "", "tabulated output path; overrides the scenario when set")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lis net.Listener
	if cfg.HealthAddress != "" {
		var err error
		lis, err = net.Listen("tcp", cfg.HealthAddress)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.HealthAddress), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run loads the scenario, starts tracing, serves metrics and health, and
// drives the simulation until it finishes or ctx ends. lis may be nil.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	scenario, err := core.LoadScenarioFile(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, tracingConfig(cfg, scenario, logging.RunIDFromContext(ctx)), log)
	if err != nil {
		return fmt.Errorf("initialise tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	var health *observability.HealthServer
	if lis != nil {
		health = startHealth(collector, log, lis)
		defer health.Stop()
	}

	start, err := scenario.Start()
	if err != nil {
		return err
	}
	step, err := scenario.StepDuration()
	if err != nil {
		return err
	}
	duration, err := scenario.RunDuration()
	if err != nil {
		return err
	}
	if cfg.Duration > 0 {
		duration = cfg.Duration
	}
	mode := clockMode(cfg, scenario)
	clock := timectrl.NewTimeController(start, step, mode)

	network, err := core.BuildNetwork(ctx, scenario, bus.New(bus.WithObserver(collector)), clock, log)
	if err != nil {
		return err
	}
	opts := append(scenario.EngineOptions(), core.WithMetricsRecorder(collector))
	engine := core.NewSimulationEngine(network, clock, log, opts...)

	registry := kb.NewRegistry(engine.Locker())
	for _, c := range network.Components() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	sampler, closeOutput, err := openSampler(cfg, scenario, registry, collector, log)
	if err != nil {
		return err
	}
	if sampler != nil {
		defer closeOutput()
		if err := sampler.Sample(0); err != nil {
			log.Warn(ctx, "initial telemetry sample failed", logging.Err(err))
		}
		engine.RegisterTickListener(sampler.Observe)
	}

	log.Info(ctx, "scenario loaded",
		logging.String("scenario", scenario.Name),
		logging.Int("components", len(network.Components())),
		logging.Int("connections", len(network.Connections())),
		logging.String("mode", mode.String()),
	)
	log.Debug(ctx, "network topology", logging.String("describe", network.Describe()))

	if health != nil {
		health.SetServing(true)
	}
	err = engine.Run(ctx, duration)
	if health != nil {
		health.SetServing(false)
	}
	return err
}

// tracingConfig layers the SIM_TRACING_* environment over the scenario's
// tracing block. Spans go to stderr when the table occupies stdout.
func tracingConfig(cfg Config, s *core.Scenario, runID string) observability.TracingConfig {
	tcfg := observability.TracingConfigFromScenario(s, observability.DefaultTracingConfig()).WithEnv(os.LookupEnv)
	tcfg.RunID = runID
	if tableOnStdout(cfg, s) {
		tcfg.Output = os.Stderr
	}
	return tcfg
}

func tableOnStdout(cfg Config, s *core.Scenario) bool {
	if len(s.Sampling.Variables) == 0 {
		return false
	}
	path := s.Sampling.Output
	if cfg.OutputPath != "" {
		path = cfg.OutputPath
	}
	return path == "" || path == "-"
}

func clockMode(cfg Config, s *core.Scenario) timectrl.Mode {
	if cfg.Accelerated {
		return timectrl.Accelerated
	}
	return s.ClockMode()
}

// startHealth serves the gRPC health service on lis in the background.
func startHealth(collector *observability.SimCollector, log logging.Logger, lis net.Listener) *observability.HealthServer {
	hs := observability.NewHealthServer(collector, log)
	go func() {
		if err := hs.Serve(lis); err != nil {
			log.Error(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()
	return hs
}

func openSampler(cfg Config, s *core.Scenario, registry *kb.Registry, collector *observability.SimCollector, log logging.Logger) (*telemetry.Sampler, func(), error) {
	if len(s.Sampling.Variables) == 0 {
		return nil, nil, nil
	}
	tcfg, err := telemetry.ConfigFromScenario(s)
	if err != nil {
		return nil, nil, err
	}

	path := s.Sampling.Output
	if cfg.OutputPath != "" {
		path = cfg.OutputPath
	}
	var file *os.File
	w := cfg.Stdout
	if w == nil {
		w = os.Stdout
	}
	if path != "" && path != "-" {
		file, err = telemetry.CreateFile(path, tcfg.Compression)
		if err != nil {
			return nil, nil, fmt.Errorf("open tabulated output: %w", err)
		}
		w = file
	}

	sampler, err := telemetry.NewSampler(w, registry, tcfg,
		telemetry.WithGauges(collector),
		telemetry.WithLogger(log),
	)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, nil, fmt.Errorf("sampling: %w", err)
	}
	closeOutput := func() {
		err := sampler.Close()
		if file != nil {
			err = errors.Join(err, file.Close())
		}
		if err != nil {
			log.Warn(context.Background(), "closing tabulated output", logging.Err(err))
		}
	}
	return sampler, closeOutput, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
