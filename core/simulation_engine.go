package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/timectrl"
)

// DefaultMaxRounds bounds the BackIteration/Iteration repetitions per cycle.
const DefaultMaxRounds = 50

// Span names emitted by the engine. Phase spans carry the phase name after
// the prefix.
const (
	CycleSpanName   = "simulation.cycle"
	PhaseSpanPrefix = "simulation.phase."
)

// ErrStopped is returned by Step after Stop.
var ErrStopped = errors.New("simulation stopped")

// CycleMetricsRecorder receives per-cycle measurements from the engine.
// observability.SimCollector implements it.
type CycleMetricsRecorder interface {
	ObserveCycle(report StepReport)
	ObservePhase(phase model.Phase, d time.Duration)
	IncIncompletePhase(phase model.Phase)
	IncFlowSeparation()
}

// StepReport summarises one cycle.
type StepReport struct {
	Cycle         int
	MissionTime   time.Duration // at the end of the cycle
	Rounds        int
	Converged     bool
	FlowSeparated bool
	Duration      time.Duration
}

// SimulationEngine is the cycle driver. Each Step runs BackIteration and
// Iteration until every Converger agrees (or MaxRounds), then
// TimeIteration, then advances the clock. It is the only caller of
// TimeController.Advance.
type SimulationEngine struct {
	mu sync.Mutex

	Network *Network
	Clock   *timectrl.TimeController

	MaxRounds             int
	AbortOnFlowSeparation bool

	log     logging.Logger
	metrics CycleMetricsRecorder
	tracer  trace.Tracer

	cycle         int
	stopped       bool
	cancel        context.CancelFunc
	tickListeners []func(StepReport)
}

// EngineOption customises a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m CycleMetricsRecorder) EngineOption {
	return func(se *SimulationEngine) { se.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(se *SimulationEngine) { se.tracer = t }
}

// WithMaxRounds sets the convergence bound.
func WithMaxRounds(n int) EngineOption {
	return func(se *SimulationEngine) {
		if n > 0 {
			se.MaxRounds = n
		}
	}
}

// WithAbortOnFlowSeparation chooses whether nozzle flow separation aborts
// the step (true, the default) or is logged and tolerated.
func WithAbortOnFlowSeparation(abort bool) EngineOption {
	return func(se *SimulationEngine) { se.AbortOnFlowSeparation = abort }
}

// NewSimulationEngine drives net with clock. The network must already be
// initialized.
func NewSimulationEngine(net *Network, clock *timectrl.TimeController, log logging.Logger, opts ...EngineOption) *SimulationEngine {
	if log == nil {
		log = logging.Noop()
	}
	se := &SimulationEngine{
		Network:               net,
		Clock:                 clock,
		MaxRounds:             DefaultMaxRounds,
		AbortOnFlowSeparation: true,
		log:                   log,
		tracer:                otel.Tracer("propulsion-simulator/core"),
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// RegisterTickListener adds a callback invoked after every completed Step,
// outside the engine lock.
func (se *SimulationEngine) RegisterTickListener(fn func(StepReport)) {
	se.mu.Lock()
	se.tickListeners = append(se.tickListeners, fn)
	se.mu.Unlock()
}

// Locker exposes the lock held for the duration of each Step, so that
// field access from other goroutines never observes a half-run cycle.
func (se *SimulationEngine) Locker() sync.Locker { return &se.mu }

// Cycle returns the number of completed cycles.
func (se *SimulationEngine) Cycle() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.cycle
}

// Step runs one full cycle.
func (se *SimulationEngine) Step(ctx context.Context) (StepReport, error) {
	report, err := se.step(ctx)
	if err == nil {
		se.mu.Lock()
		listeners := append([]func(StepReport){}, se.tickListeners...)
		se.mu.Unlock()
		for _, fn := range listeners {
			fn(report)
		}
	}
	return report, err
}

func (se *SimulationEngine) step(ctx context.Context) (report StepReport, err error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.stopped {
		return StepReport{}, ErrStopped
	}
	start := time.Now()
	report.Cycle = se.cycle

	ctx, span := se.tracer.Start(ctx, CycleSpanName, trace.WithAttributes(
		attribute.Int("sim.cycle", se.cycle),
		attribute.Float64("sim.mission_time_s", se.Clock.Elapsed().Seconds()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("sim.rounds", report.Rounds),
			attribute.Bool("sim.converged", report.Converged),
		)
		span.End()
	}()

	log := se.log.With(logging.Cycle(se.cycle), logging.MissionTime(se.Clock.Elapsed().Seconds()))
	convergers := se.Network.Convergers()

	for round := 1; round <= se.MaxRounds; round++ {
		report.Rounds = round
		if err := se.runPhase(ctx, log, model.BackIteration, round, &report); err != nil {
			return report, err
		}
		if err := se.runPhase(ctx, log, model.Iteration, round, &report); err != nil {
			return report, err
		}
		if allConverged(convergers) {
			report.Converged = true
			break
		}
	}
	if !report.Converged {
		log.Warn(ctx, "iteration did not converge, committing last solution",
			logging.Int("rounds", report.Rounds),
			logging.String("class", ClassNonConvergence.String()),
		)
	}

	if err := se.runPhase(ctx, log, model.TimeIteration, 0, &report); err != nil {
		return report, err
	}

	se.Clock.Advance()
	se.cycle++
	report.MissionTime = se.Clock.Elapsed()
	report.Duration = time.Since(start)
	if se.metrics != nil {
		se.metrics.ObserveCycle(report)
	}
	return report, nil
}

// runPhase resets the gates, fires the roots and checks that every
// component fired.
func (se *SimulationEngine) runPhase(ctx context.Context, log logging.Logger, ph model.Phase, round int, report *StepReport) error {
	ctx, span := se.tracer.Start(ctx, PhaseSpanPrefix+ph.String(), trace.WithAttributes(
		attribute.String("sim.phase", ph.String()),
		attribute.Int("sim.round", round),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		if se.metrics != nil {
			se.metrics.ObservePhase(ph, time.Since(start))
		}
	}()

	se.Network.Reset(ph)
	if err := se.Network.Trigger(ctx, ph); err != nil {
		span.RecordError(err)
		return err
	}
	if flagged := se.Network.Unphysical(ph); len(flagged) > 0 {
		err := errors.Join(flagged...)
		report.FlowSeparated = true
		if se.metrics != nil {
			se.metrics.IncFlowSeparation()
		}
		if se.AbortOnFlowSeparation {
			span.RecordError(err)
			return err
		}
		log.Warn(ctx, "unphysical flow condition, continuing", logging.Phase(ph), logging.Err(err))
	}

	if stalls := se.Network.Incomplete(ph); len(stalls) > 0 {
		if se.metrics != nil {
			se.metrics.IncIncompletePhase(ph)
		}
		desc := make([]string, len(stalls))
		for i, s := range stalls {
			desc[i] = s.String()
		}
		err := &SimError{
			Class:     ClassIncompletePhase,
			Component: stalls[0].Component,
			Phase:     ph,
			Err:       fmt.Errorf("%w: %s", ErrIncompletePhase, strings.Join(desc, "; ")),
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func allConverged(cs []Converger) bool {
	for _, c := range cs {
		if !c.Converged() {
			return false
		}
	}
	return true
}

// Run steps until mission time reaches duration (zero means no limit), the
// context ends or Stop is called. It honours Pause through the clock.
func (se *SimulationEngine) Run(ctx context.Context, duration time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	se.mu.Lock()
	if se.stopped {
		se.mu.Unlock()
		return ErrStopped
	}
	se.cancel = cancel
	se.mu.Unlock()

	ctx, log := logging.WithRunLogger(ctx, se.log)
	log.Info(ctx, "simulation started",
		logging.String("mode", se.Clock.Mode.String()),
		logging.Float("step_s", se.Clock.Step()),
		logging.Float("duration_s", duration.Seconds()),
	)

	for {
		if duration > 0 && se.Clock.Elapsed() >= duration {
			log.Info(ctx, "simulation finished", logging.Int("cycles", se.Cycle()))
			return nil
		}
		if err := se.Clock.Wait(ctx); err != nil {
			return se.exit(ctx, log)
		}
		if _, err := se.Step(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return se.exit(ctx, log)
			}
			var simErr *SimError
			if errors.As(err, &simErr) {
				log.Error(ctx, "simulation aborted",
					logging.Component(simErr.Component),
					logging.Phase(simErr.Phase),
					logging.String("class", simErr.Class.String()),
					logging.Err(err),
				)
			}
			return err
		}
	}
}

func (se *SimulationEngine) exit(ctx context.Context, log logging.Logger) error {
	log.Info(ctx, "simulation stopped", logging.Int("cycles", se.Cycle()))
	return nil
}

// Pause holds Run before the next cycle.
func (se *SimulationEngine) Pause() { se.Clock.Pause() }

// Resume releases a paused Run.
func (se *SimulationEngine) Resume() { se.Clock.Resume() }

// Paused reports whether the engine is paused.
func (se *SimulationEngine) Paused() bool { return se.Clock.Paused() }

// Stop ends Run after the current cycle; further Steps fail with ErrStopped.
func (se *SimulationEngine) Stop() {
	se.mu.Lock()
	se.stopped = true
	cancel := se.cancel
	se.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stopped reports whether Stop has been called.
func (se *SimulationEngine) Stopped() bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.stopped
}
