package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/propulsion-simulator/bus"
	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
	"github.com/signalsfoundry/propulsion-simulator/model"
	"github.com/signalsfoundry/propulsion-simulator/timectrl"
)

// ErrCycle is returned when the wiring makes a phase non-terminating.
var ErrCycle = errors.New("topology has a cycle within one phase")

// Connection wires From.Output to To.Input.
type Connection struct {
	From   string
	Output string
	To     string
	Input  string
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.From, c.Output, c.To, c.Input)
}

// ParseEndpoint splits "component.port". The component name may itself
// contain dots; the port is everything after the last one.
func ParseEndpoint(s string) (component, port string, err error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("%w: endpoint %q, want component.port", ErrUnknownPort, s)
	}
	return s[:i], s[i+1:], nil
}

// Stall describes a component whose gate did not fire in a phase.
type Stall struct {
	Component string
	Phase     model.Phase
	State     GateState
	Missing   []string
}

func (s Stall) String() string {
	return fmt.Sprintf("%s[%s] %s, missing %s", s.Component, s.Phase, s.State, strings.Join(s.Missing, ","))
}

type connectionMarker interface {
	markConnected(port string)
}

type node struct {
	comp  Component
	ports map[string]PortSpec
	gates [len(model.Phases)]*Gate[model.Port]
}

type endpoint struct {
	component string
	port      string
}

// Network owns the component graph: it validates connections, turns them
// into bus subscriptions, gates each component per phase and reports
// components that stalled.
type Network struct {
	bus   *bus.Bus
	clock timectrl.SimClock
	log   logging.Logger

	nodes  []*node
	byName map[string]*node
	conns  []Connection

	fluidOutputs map[endpoint]Connection
	inputs       map[endpoint]Connection

	unphysical [len(model.Phases)][]error

	initialized bool
}

// NewNetwork returns an empty network publishing on b.
func NewNetwork(b *bus.Bus, clock timectrl.SimClock, log logging.Logger) *Network {
	if b == nil {
		b = bus.New()
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Network{
		bus:          b,
		clock:        clock,
		log:          log,
		byName:       make(map[string]*node),
		fluidOutputs: make(map[endpoint]Connection),
		inputs:       make(map[endpoint]Connection),
	}
}

// Add registers a component. Names must be unique.
func (n *Network) Add(c Component) error {
	if n.initialized {
		return ErrAlreadyInitialized
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("%w: empty component name", ErrUnknownComponent)
	}
	if _, exists := n.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}
	nd := &node{comp: c, ports: make(map[string]PortSpec)}
	for _, p := range c.Ports() {
		if _, dup := nd.ports[p.Name]; dup {
			return fmt.Errorf("%w: %s declares port %q twice", ErrUnknownPort, name, p.Name)
		}
		nd.ports[p.Name] = p
	}
	n.nodes = append(n.nodes, nd)
	n.byName[name] = nd
	return nil
}

// Connect wires an output to an input. Kinds must match, an input takes a
// single connection and a fluid output feeds exactly one input. Analog and
// force outputs may fan out.
func (n *Network) Connect(c Connection) error {
	if n.initialized {
		return ErrAlreadyInitialized
	}
	from, ok := n.byName[c.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, c.From)
	}
	to, ok := n.byName[c.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, c.To)
	}
	out, ok := from.ports[c.Output]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownPort, c.From, c.Output)
	}
	in, ok := to.ports[c.Input]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownPort, c.To, c.Input)
	}
	if out.Direction != Out || in.Direction != In {
		return fmt.Errorf("%w: %s", ErrPortDirection, c)
	}
	if out.Kind != in.Kind {
		return fmt.Errorf("%w: %s (%s vs %s)", ErrKindMismatch, c, out.Kind, in.Kind)
	}
	inKey := endpoint{c.To, c.Input}
	if prev, taken := n.inputs[inKey]; taken {
		return fmt.Errorf("%w: %s already fed by %s", ErrInputTaken, c, prev)
	}
	outKey := endpoint{c.From, c.Output}
	if out.Kind == model.KindFluid {
		if prev, taken := n.fluidOutputs[outKey]; taken {
			return fmt.Errorf("%w: %s already feeds %s.%s", ErrFanOut, c, prev.To, prev.Input)
		}
		n.fluidOutputs[outKey] = c
	}
	n.inputs[inKey] = c
	n.conns = append(n.conns, c)

	if m, ok := from.comp.(connectionMarker); ok {
		m.markConnected(c.Output)
	}
	if m, ok := to.comp.(connectionMarker); ok {
		m.markConnected(c.Input)
	}
	return nil
}

// Initialize builds the per-phase gates and bus subscriptions, seals the
// bus and initializes every component in registration order.
func (n *Network) Initialize() error {
	if n.initialized {
		return ErrAlreadyInitialized
	}
	required := make(map[string][len(model.Phases)][]string, len(n.nodes))
	for _, c := range n.conns {
		fluid := n.byName[c.From].ports[c.Output].Kind == model.KindFluid
		for _, ph := range model.Phases {
			if ph == model.BackIteration && fluid {
				r := required[c.From]
				r[ph] = append(r[ph], c.Output)
				required[c.From] = r
				continue
			}
			r := required[c.To]
			r[ph] = append(r[ph], c.Input)
			required[c.To] = r
		}
	}
	for _, nd := range n.nodes {
		r := required[nd.comp.Name()]
		for _, ph := range model.Phases {
			nd.gates[ph] = NewGate[model.Port](r[ph]...)
		}
	}

	for _, ph := range model.Phases {
		if err := n.checkAcyclic(ph); err != nil {
			return &SimError{Class: ClassConfig, Component: "network", Phase: ph, Err: err}
		}
	}

	for _, c := range n.conns {
		from, to := n.byName[c.From], n.byName[c.To]
		fluid := from.ports[c.Output].Kind == model.KindFluid
		for _, ph := range model.Phases {
			var err error
			if ph == model.BackIteration && fluid {
				err = n.bus.Subscribe(c.To, ph, []string{c.Input}, c.From, n.handler(from, ph, c.Output))
			} else {
				err = n.bus.Subscribe(c.From, ph, []string{c.Output}, c.To, n.handler(to, ph, c.Input))
			}
			if err != nil {
				return fmt.Errorf("wire %s: %w", c, err)
			}
		}
	}
	n.bus.Seal()

	for _, nd := range n.nodes {
		env := Env{
			Clock: n.clock,
			Log:   n.log.With(logging.Component(nd.comp.Name()), logging.String("kind", nd.comp.Kind())),
			Emit:  nodeEmitter{n: n, nd: nd},
		}
		if err := nd.comp.Initialize(env); err != nil {
			return &SimError{Class: ClassConfig, Component: nd.comp.Name(), Err: err}
		}
	}
	n.initialized = true
	return nil
}

// checkAcyclic runs Kahn's algorithm over the delivery edges of one phase.
func (n *Network) checkAcyclic(ph model.Phase) error {
	indeg := make(map[string]int, len(n.nodes))
	next := make(map[string][]string)
	for _, c := range n.conns {
		src, dst := c.From, c.To
		if ph == model.BackIteration && n.byName[c.From].ports[c.Output].Kind == model.KindFluid {
			src, dst = c.To, c.From
		}
		next[src] = append(next[src], dst)
		indeg[dst]++
	}
	var queue []string
	for _, nd := range n.nodes {
		if indeg[nd.comp.Name()] == 0 {
			queue = append(queue, nd.comp.Name())
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range next[cur] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if visited == len(n.nodes) {
		return nil
	}
	var stuck []string
	for name, d := range indeg {
		if d > 0 {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ","))
}

func (n *Network) handler(target *node, ph model.Phase, input string) bus.Handler {
	return func(ctx context.Context, p model.Port) error {
		in, ready, err := target.gates[ph].Offer(input, p)
		if err != nil {
			n.log.Error(ctx, "dropped delivery",
				logging.Component(target.comp.Name()),
				logging.Phase(ph),
				logging.String("input", input),
				logging.Err(err),
			)
			return nil
		}
		if !ready {
			return nil
		}
		return n.fire(ctx, target, ph, Inputs(in))
	}
}

func (n *Network) fire(ctx context.Context, nd *node, ph model.Phase, in Inputs) error {
	err := nd.comp.Fire(ctx, ph, in)
	if err == nil {
		return nil
	}
	var se *SimError
	if errors.As(err, &se) {
		if se.Class == ClassUnphysical {
			n.unphysical[ph] = append(n.unphysical[ph], err)
			return nil
		}
		return err
	}
	return &SimError{Class: ClassInternal, Component: nd.comp.Name(), Phase: ph, Err: err}
}

// Trigger fires every root component of the phase in registration order.
// Propagation continues from the remaining roots after a failure; all
// failures are returned joined.
func (n *Network) Trigger(ctx context.Context, ph model.Phase) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	var errs []error
	for _, nd := range n.nodes {
		if !nd.gates[ph].Trigger() {
			continue
		}
		if err := n.fire(ctx, nd, ph, Inputs{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset clears the gates and flagged conditions of one phase.
func (n *Network) Reset(ph model.Phase) {
	n.unphysical[ph] = nil
	for _, nd := range n.nodes {
		if g := nd.gates[ph]; g != nil {
			g.Reset()
		}
	}
}

// Unphysical returns the flow conditions flagged in ph since its last
// Reset. Components raising them still count as fired and propagation
// carries on past them.
func (n *Network) Unphysical(ph model.Phase) []error {
	return append([]error(nil), n.unphysical[ph]...)
}

// Incomplete lists the components that did not fire in ph.
func (n *Network) Incomplete(ph model.Phase) []Stall {
	var out []Stall
	for _, nd := range n.nodes {
		g := nd.gates[ph]
		if g == nil || g.Fired() {
			continue
		}
		out = append(out, Stall{Component: nd.comp.Name(), Phase: ph, State: g.State(), Missing: g.Missing()})
	}
	return out
}

// Component returns the named component.
func (n *Network) Component(name string) (Component, bool) {
	nd, ok := n.byName[name]
	if !ok {
		return nil, false
	}
	return nd.comp, true
}

// Components returns all components in registration order.
func (n *Network) Components() []Component {
	out := make([]Component, len(n.nodes))
	for i, nd := range n.nodes {
		out[i] = nd.comp
	}
	return out
}

// Connections returns the wiring in the order it was added.
func (n *Network) Connections() []Connection {
	return append([]Connection(nil), n.conns...)
}

// Convergers returns the components taking part in the convergence check.
func (n *Network) Convergers() []Converger {
	var out []Converger
	for _, nd := range n.nodes {
		if c, ok := nd.comp.(Converger); ok {
			out = append(out, c)
		}
	}
	return out
}

// Bus returns the underlying bus.
func (n *Network) Bus() *bus.Bus { return n.bus }

// Describe renders components, wiring and bus routes.
func (n *Network) Describe() string {
	var sb strings.Builder
	sb.WriteString("components:\n")
	for _, nd := range n.nodes {
		fmt.Fprintf(&sb, "  %s (%s)", nd.comp.Name(), nd.comp.Kind())
		if nd.gates[0] != nil {
			for _, ph := range model.Phases {
				if nd.gates[ph].Root() {
					fmt.Fprintf(&sb, " root:%s", ph)
				}
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("connections:\n")
	for _, c := range n.conns {
		fmt.Fprintf(&sb, "  %s\n", c)
	}
	if routes := n.bus.Routes(); len(routes) > 0 {
		sb.WriteString("routes:\n")
		for _, r := range routes {
			fmt.Fprintf(&sb, "  %s\n", r)
		}
	}
	return sb.String()
}

type nodeEmitter struct {
	n  *Network
	nd *node
}

// Emit checks that the port may carry payload in ph and publishes it with
// the port name and, for fluids, the fluid name as qualifiers.
func (e nodeEmitter) Emit(ctx context.Context, ph model.Phase, port string, payload model.Port) error {
	name := e.nd.comp.Name()
	spec, ok := e.nd.ports[port]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownPort, name, port)
	}
	if payload.PortKind() != spec.Kind {
		return fmt.Errorf("%w: %s.%s is %s, payload is %s", ErrKindMismatch, name, port, spec.Kind, payload.PortKind())
	}
	want := Out
	if ph == model.BackIteration && spec.Kind == model.KindFluid {
		want = In
	}
	if spec.Direction != want {
		return fmt.Errorf("%w: %s.%s during %s", ErrPortDirection, name, port, ph)
	}
	qualifiers := []string{port}
	switch p := payload.(type) {
	case model.FluidPort:
		qualifiers = append(qualifiers, p.Fluid)
	case model.BoundaryPort:
		qualifiers = append(qualifiers, p.Fluid)
	}
	return e.n.bus.Publish(ctx, name, ph, qualifiers, payload)
}
