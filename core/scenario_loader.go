package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/propulsion-simulator/bus"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/timectrl"
)

// Format of a scenario document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension; anything that is
// not .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Scenario is the topology and run configuration of one simulation.
type Scenario struct {
	Name        string           `yaml:"name" json:"name"`
	StartTime   string           `yaml:"start_time" json:"start_time"` // RFC 3339, default now
	Engine      EngineSettings   `yaml:"engine" json:"engine"`
	Sampling    SamplingSettings `yaml:"sampling" json:"sampling"`
	Tracing     TracingSettings  `yaml:"tracing" json:"tracing"`
	Components  []ComponentSpec  `yaml:"components" json:"components"`
	Connections []ConnectionSpec `yaml:"connections" json:"connections"`
}

// EngineSettings configure the cycle driver.
type EngineSettings struct {
	Step                  string `yaml:"step" json:"step"`         // e.g. "100ms"
	Duration              string `yaml:"duration" json:"duration"` // empty runs until stopped
	MaxRounds             int    `yaml:"max_rounds" json:"max_rounds"`
	AbortOnFlowSeparation *bool  `yaml:"abort_on_flow_separation" json:"abort_on_flow_separation"`
	RealTime              bool   `yaml:"realtime" json:"realtime"`
}

// SamplingSettings configure tabulated output.
type SamplingSettings struct {
	Interval    string   `yaml:"interval" json:"interval"`
	Output      string   `yaml:"output" json:"output"`
	Compression string   `yaml:"compression" json:"compression"` // "", "gzip" or "zstd"
	Variables   []string `yaml:"variables" json:"variables"`     // "component.Field"
}

// TracingSettings configure span export for the run. SIM_TRACING_*
// environment variables override them.
type TracingSettings struct {
	Enabled     *bool    `yaml:"enabled" json:"enabled"`
	Exporter    string   `yaml:"exporter" json:"exporter"` // "stdout" or "otlp"
	Endpoint    string   `yaml:"endpoint" json:"endpoint"`
	SampleRatio *float64 `yaml:"sample_ratio" json:"sample_ratio"`
	PhaseSpans  bool     `yaml:"phase_spans" json:"phase_spans"` // one span per phase and round
}

// ComponentSpec declares one component instance.
type ComponentSpec struct {
	Name   string `yaml:"name" json:"name"`
	Kind   string `yaml:"kind" json:"kind"`
	Params Params `yaml:"params" json:"params"`
}

// ConnectionSpec wires "component.port" to "component.port".
type ConnectionSpec struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// LoadScenario decodes a scenario document from r.
func LoadScenario(r io.Reader, format Format) (*Scenario, error) {
	var s Scenario
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("LoadScenario: decode json: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("LoadScenario: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("LoadScenario: unknown format %q", format)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenarioFile reads a scenario from disk, choosing the decoder by
// extension.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadScenario(f, FormatFromPath(path))
}

// Validate checks the document shape; physics parameters are checked when
// the components are built.
func (s *Scenario) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(s.Components))
	for i, c := range s.Components {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("component %d: empty name", i))
		case seen[c.Name]:
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Name))
		}
		seen[c.Name] = true
		if c.Kind == "" {
			errs = append(errs, fmt.Errorf("component %q: empty kind", c.Name))
		}
	}
	for i, c := range s.Connections {
		if _, _, err := ParseEndpoint(c.From); err != nil {
			errs = append(errs, fmt.Errorf("connection %d from: %w", i, err))
		}
		if _, _, err := ParseEndpoint(c.To); err != nil {
			errs = append(errs, fmt.Errorf("connection %d to: %w", i, err))
		}
	}
	if _, err := s.StepDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.RunDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Start(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.SamplingInterval(); err != nil {
		errs = append(errs, err)
	}
	switch s.Sampling.Compression {
	case "", "gzip", "zstd":
	default:
		errs = append(errs, fmt.Errorf("sampling.compression %q: want gzip or zstd", s.Sampling.Compression))
	}
	switch strings.ToLower(s.Tracing.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q: want stdout or otlp", s.Tracing.Exporter))
	}
	if r := s.Tracing.SampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %g: want [0,1]", *r))
	}
	return errors.Join(errs...)
}

// StepDuration returns the integration step, 100ms by default.
func (s *Scenario) StepDuration() (time.Duration, error) {
	if s.Engine.Step == "" {
		return 100 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s.Engine.Step)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("engine.step %q: %w", s.Engine.Step, timectrl.ErrInvalidStep)
	}
	return d, nil
}

// RunDuration returns the mission length; zero means unbounded.
func (s *Scenario) RunDuration() (time.Duration, error) {
	if s.Engine.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Engine.Duration)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("engine.duration %q: invalid", s.Engine.Duration)
	}
	return d, nil
}

// SamplingInterval returns the tabulation cadence; zero samples every
// cycle.
func (s *Scenario) SamplingInterval() (time.Duration, error) {
	if s.Sampling.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Sampling.Interval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("sampling.interval %q: invalid", s.Sampling.Interval)
	}
	return d, nil
}

// Start returns the mission start time.
func (s *Scenario) Start() (time.Time, error) {
	if s.StartTime == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_time: %w", err)
	}
	return t, nil
}

// ClockMode is the pacing the scenario asks for.
func (s *Scenario) ClockMode() timectrl.Mode {
	if s.Engine.RealTime {
		return timectrl.RealTime
	}
	return timectrl.Accelerated
}

// EngineOptions translates the engine settings.
func (s *Scenario) EngineOptions() []EngineOption {
	opts := []EngineOption{WithMaxRounds(s.Engine.MaxRounds)}
	if s.Engine.AbortOnFlowSeparation != nil {
		opts = append(opts, WithAbortOnFlowSeparation(*s.Engine.AbortOnFlowSeparation))
	}
	return opts
}

// BuildNetwork instantiates, wires and initializes the scenario's
// components. Unknown parameters are logged; every other problem is
// returned, joined.
func BuildNetwork(ctx context.Context, s *Scenario, b *bus.Bus, clock timectrl.SimClock, log logging.Logger) (*Network, error) {
	if log == nil {
		log = logging.Noop()
	}
	net := NewNetwork(b, clock, log)
	var errs []error
	for _, spec := range s.Components {
		c, unknown, err := Build(spec.Kind, spec.Name, spec.Params)
		if err != nil {
			errs = append(errs, &SimError{Class: ClassConfig, Component: spec.Name, Err: err})
			continue
		}
		for _, k := range unknown {
			log.Warn(ctx, "unknown parameter ignored", logging.Component(spec.Name), logging.String("param", k))
		}
		if err := net.Add(c); err != nil {
			errs = append(errs, &SimError{Class: ClassConfig, Component: spec.Name, Err: err})
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("build network: %w", errors.Join(errs...))
	}

	for _, cs := range s.Connections {
		from, out, _ := ParseEndpoint(cs.From)
		to, in, _ := ParseEndpoint(cs.To)
		if err := net.Connect(Connection{From: from, Output: out, To: to, Input: in}); err != nil {
			errs = append(errs, &SimError{Class: ClassConfig, Component: from, Err: err})
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("build network: %w", errors.Join(errs...))
	}
	if err := net.Initialize(); err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	return net, nil
}
