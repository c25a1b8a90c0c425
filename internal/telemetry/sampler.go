// Package telemetry tabulates named component variables as CSV rows at a
// fixed mission-time cadence.
package telemetry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/kb"
)

// Compression selects the output stream encoding.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// TimeColumn heads the first column of every table.
const TimeColumn = "mission_time_s"

var ErrNoVariables = errors.New("telemetry: no variables to sample")

// Source resolves a variable to its current value. kb.Registry implements
// it under the engine lock.
type Source interface {
	Sample(v kb.Variable) (float64, error)
}

// GaugeSink mirrors sampled values elsewhere, typically Prometheus.
type GaugeSink interface {
	SetComponentValue(component, variable string, v float64)
}

// Config describes what to sample and how often.
type Config struct {
	Interval    time.Duration // zero samples every cycle
	Variables   []kb.Variable
	Compression Compression
}

// ConfigFromScenario translates a scenario's sampling block.
func ConfigFromScenario(s *core.Scenario) (Config, error) {
	interval, err := s.SamplingInterval()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Interval: interval, Compression: Compression(s.Sampling.Compression)}
	var errs []error
	for _, name := range s.Sampling.Variables {
		v, err := kb.ParseVariable(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.Variables = append(cfg.Variables, v)
	}
	return cfg, errors.Join(errs...)
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithGauges mirrors every sampled value into g.
func WithGauges(g GaugeSink) Option {
	return func(s *Sampler) { s.gauges = g }
}

// WithLogger sets the logger used for sampling failures.
func WithLogger(l logging.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// Sampler writes one CSV row per due sample. Observe is shaped to be
// registered as an engine tick listener.
type Sampler struct {
	mu       sync.Mutex
	src      Source
	vars     []kb.Variable
	labels   []string
	interval time.Duration
	next     time.Duration
	started  bool

	out    io.WriteCloser
	csv    *csv.Writer
	gauges GaugeSink
	log    logging.Logger

	rows int
	err  error
}

// NewSampler checks every variable against src, then writes the header
// row to w through the configured compression.
func NewSampler(w io.Writer, src Source, cfg Config, opts ...Option) (*Sampler, error) {
	if len(cfg.Variables) == 0 {
		return nil, ErrNoVariables
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("telemetry: negative interval %v", cfg.Interval)
	}
	var errs []error
	for _, v := range cfg.Variables {
		if _, err := src.Sample(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	out, err := Compress(w, cfg.Compression)
	if err != nil {
		return nil, err
	}
	s := &Sampler{
		src:      src,
		vars:     append([]kb.Variable(nil), cfg.Variables...),
		interval: cfg.Interval,
		out:      out,
		csv:      csv.NewWriter(out),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	header := make([]string, 0, len(s.vars)+1)
	header = append(header, TimeColumn)
	for _, v := range s.vars {
		header = append(header, v.String())
		s.labels = append(s.labels, strings.TrimPrefix(v.String(), v.Component+"."))
	}
	if err := s.csv.Write(header); err != nil {
		return nil, err
	}
	return s, nil
}

// Observe samples when the cycle's mission time has reached the next due
// time.
func (s *Sampler) Observe(r core.StepReport) {
	s.mu.Lock()
	due := !s.started || r.MissionTime >= s.next
	s.mu.Unlock()
	if !due {
		return
	}
	if err := s.Sample(r.MissionTime); err != nil {
		s.log.Warn(context.Background(), "telemetry sample failed",
			logging.Cycle(r.Cycle),
			logging.Err(err),
		)
	}
}

// Sample writes a row for mission time t unconditionally and schedules the
// next one. Variables that fail to resolve are left blank.
func (s *Sampler) Sample(t time.Duration) error {
	row := make([]string, 0, len(s.vars)+1)
	row = append(row, strconv.FormatFloat(t.Seconds(), 'g', -1, 64))
	var errs []error
	for i, v := range s.vars {
		val, err := s.src.Sample(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		if s.gauges != nil {
			s.gauges.SetComponentValue(v.Component, s.labels[i], val)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.started = true
	if s.interval > 0 {
		for s.next <= t {
			s.next += s.interval
		}
	}
	if err := s.csv.Write(row); err != nil {
		s.err = err
		return err
	}
	s.rows++
	return errors.Join(errs...)
}

// Rows returns the number of data rows written.
func (s *Sampler) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Flush pushes buffered rows to the underlying writer. Compressed streams
// are only complete after Close.
func (s *Sampler) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv.Flush()
	return s.csv.Error()
}

// Close flushes the table and finishes the compressed stream. It does not
// close the writer passed to NewSampler.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv.Flush()
	return errors.Join(s.csv.Error(), s.out.Close())
}

// Compress wraps w in the requested encoder.
func Compress(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("telemetry: unsupported compression %q", c)
	}
}

// Decompress wraps r in the decoder matching c.
func Decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("telemetry: unsupported compression %q", c)
	}
}

// CreateFile opens path for a table, appending the compression's
// extension when path lacks it.
func CreateFile(path string, c Compression) (*os.File, error) {
	switch c {
	case CompressionGzip:
		if !strings.HasSuffix(path, ".gz") {
			path += ".gz"
		}
	case CompressionZstd:
		if !strings.HasSuffix(path, ".zst") {
			path += ".zst"
		}
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
