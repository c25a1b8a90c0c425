package core

import (
	"fmt"
	"sort"
)

type builder func(name string, r *paramReader) Component

// builders maps a component kind to its constructor. Instance identity
// lives in the scenario, not in a type per physical part.
var builders = map[string]builder{
	"pipe":                 func(n string, r *paramReader) Component { return buildPipe(n, r) },
	"filter":               func(n string, r *paramReader) Component { return buildFilter(n, r) },
	"valve":                func(n string, r *paramReader) Component { return buildValve(n, r) },
	"pressure_regulator":   func(n string, r *paramReader) Component { return buildRegulator(n, r) },
	"junction":             func(n string, r *paramReader) Component { return buildJunction(n, r) },
	"split":                func(n string, r *paramReader) Component { return buildSplit(n, r) },
	"tank":                 func(n string, r *paramReader) Component { return buildTank(n, r) },
	"high_pressure_bottle": func(n string, r *paramReader) Component { return buildBottle(n, r) },
	"engine":               func(n string, r *paramReader) Component { return buildEngine(n, r) },
	"engine_controller":    func(n string, r *paramReader) Component { return buildController(n, r) },
	"structure":            func(n string, r *paramReader) Component { return buildStructure(n, r) },
	"gravity":              func(n string, r *paramReader) Component { return buildGravity(n, r) },
}

// Kinds returns the known component kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a component of the given kind. It also returns the
// parameter keys the component did not recognise.
func Build(kind, name string, p Params) (Component, []string, error) {
	b, ok := builders[kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r := newParamReader(name, p)
	c := b(name, r)
	if err := r.Err(); err != nil {
		return nil, nil, err
	}
	return c, r.Unknown(), nil
}
