package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/timectrl"
)

// FlowThreshold is the mass flow below which components pass their inlet
// state through without any pressure-drop or heat-transfer update.
const FlowThreshold = 1e-6

// Direction of a port relative to the component owning it.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// PortSpec declares one named port of a component.
type PortSpec struct {
	Name      string
	Direction Direction
	Kind      model.PortKind
}

// Emitter publishes a component's port values onto the bus.
type Emitter interface {
	Emit(ctx context.Context, phase model.Phase, port string, payload model.Port) error
}

// Env is handed to each component by Network.Initialize.
type Env struct {
	Clock timectrl.SimClock
	Log   logging.Logger
	Emit  Emitter
}

// Component is a node of the propulsion network. Fire is called once per
// phase, after every connected input required for that phase has arrived.
// Persistent state may only change during model.TimeIteration.
type Component interface {
	Name() string
	Kind() string
	Ports() []PortSpec
	Initialize(env Env) error
	Fire(ctx context.Context, phase model.Phase, in Inputs) error
}

// Converger is implemented by components that iterate towards a solution
// across Iteration rounds. The cycle driver repeats BackIteration and
// Iteration until every Converger reports true.
type Converger interface {
	Converged() bool
}

// Inputs are the port values gathered for one firing, keyed by input name.
// Each value is a private copy.
type Inputs map[string]model.Port

// Fluid returns the named forward fluid input.
func (in Inputs) Fluid(name string) (model.FluidPort, bool) {
	p, ok := in[name].(model.FluidPort)
	return p, ok
}

// Boundary returns the named BackIteration demand.
func (in Inputs) Boundary(name string) (model.BoundaryPort, bool) {
	p, ok := in[name].(model.BoundaryPort)
	return p, ok
}

// Analog returns the named analog input.
func (in Inputs) Analog(name string) (model.AnalogPort, bool) {
	p, ok := in[name].(model.AnalogPort)
	return p, ok
}

// Force returns the named force input.
func (in Inputs) Force(name string) (model.ForcePort, bool) {
	p, ok := in[name].(model.ForcePort)
	return p, ok
}

// Base carries what every component shares: identity, declared ports,
// connection bookkeeping and the environment installed at Initialize.
// Concrete components embed it.
type Base struct {
	name      string
	kind      string
	ports     []PortSpec
	connected map[string]bool
	env       Env
	log       logging.Logger
}

func newBase(name, kind string, ports ...PortSpec) Base {
	return Base{
		name:      name,
		kind:      kind,
		ports:     ports,
		connected: make(map[string]bool),
		log:       logging.Noop(),
	}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Kind() string { return b.kind }

// Ports returns a copy of the declared ports.
func (b *Base) Ports() []PortSpec {
	return append([]PortSpec(nil), b.ports...)
}

// Initialize installs the environment. Components with derived constants
// override it and call it first.
func (b *Base) Initialize(env Env) error {
	if env.Emit == nil {
		return errors.New("initialize: emitter is required")
	}
	if env.Log == nil {
		env.Log = logging.Noop()
	}
	b.env = env
	b.log = env.Log
	return nil
}

// Connected reports whether port has been wired by the network.
func (b *Base) Connected(port string) bool { return b.connected[port] }

func (b *Base) markConnected(port string) { b.connected[port] = true }

func (b *Base) logger() logging.Logger { return b.log }

func (b *Base) emit(ctx context.Context, phase model.Phase, port string, p model.Port) error {
	if b.env.Emit == nil {
		return fmt.Errorf("%s: %w", b.name, ErrNotInitialized)
	}
	return b.env.Emit.Emit(ctx, phase, port, p)
}

// dt is the current integration step in seconds.
func (b *Base) dt() float64 {
	if b.env.Clock == nil {
		return 0
	}
	return b.env.Clock.Step()
}

// missionTime is the elapsed simulation time in seconds.
func (b *Base) missionTime() float64 {
	if b.env.Clock == nil {
		return 0
	}
	return b.env.Clock.Elapsed().Seconds()
}

// demand reads a BackIteration request. A constrained pressure or
// temperature is logged and ignored; only the mass flow is used.
func (b *Base) demand(ctx context.Context, in Inputs, port string) (model.BoundaryPort, bool) {
	bp, ok := in.Boundary(port)
	if !ok {
		return model.BoundaryPort{}, false
	}
	if err := bp.Validate(); err != nil {
		b.log.Error(ctx, "invalid boundary request",
			logging.String("port", port),
			logging.String("class", ClassInvalidBoundary.String()),
			logging.Err(err),
		)
		bp = model.Demand(bp.Fluid, bp.MassFlow)
	}
	if bp.MassFlow < 0 {
		b.log.Warn(ctx, "negative demand clamped", logging.String("port", port), logging.Float("mass_flow", bp.MassFlow))
		bp.MassFlow = 0
	}
	return bp, true
}

// warnNonConvergence logs a solver that hit its cap and fell back.
func (b *Base) warnNonConvergence(ctx context.Context, solver string, err error, fields ...logging.Field) {
	fields = append(fields,
		logging.String("solver", solver),
		logging.String("class", ClassNonConvergence.String()),
		logging.Err(err),
	)
	b.log.Warn(ctx, "solver did not converge, using fallback", fields...)
}

func fluidIn(name string) PortSpec  { return PortSpec{Name: name, Direction: In, Kind: model.KindFluid} }
func fluidOut(name string) PortSpec { return PortSpec{Name: name, Direction: Out, Kind: model.KindFluid} }
func analogIn(name string) PortSpec { return PortSpec{Name: name, Direction: In, Kind: model.KindAnalog} }

func analogOut(name string) PortSpec {
	return PortSpec{Name: name, Direction: Out, Kind: model.KindAnalog}
}
