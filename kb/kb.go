// Package kb exposes simulation components, their fields and their no-arg
// methods by string name, for console commands (GET/SET/GETA/SETA/CALL)
// and tabulated sampling.
package kb

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrComponentNotFound = errors.New("component not found")
	ErrDuplicate         = errors.New("component already registered")
	ErrFieldNotFound     = errors.New("field not found")
	ErrMethodNotFound    = errors.New("method not found")
	ErrNotScalar         = errors.New("field is not a scalar")
	ErrNotArray          = errors.New("field is not a number array")
	ErrBadValue          = errors.New("value does not fit field")
	ErrBadVariable       = errors.New("malformed variable reference")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventFieldSet EventType = iota
	EventMethodCalled
)

// Event is emitted to subscribers after a mutation through the registry.
type Event struct {
	Type      EventType
	Component string
	Member    string
}

// Named is anything registered under its own name.
type Named interface {
	Name() string
}

// MemberKind distinguishes fields from methods in a listing.
type MemberKind int

const (
	MemberField MemberKind = iota
	MemberMethod
)

// Member describes one accessible field or method.
type Member struct {
	Name string
	Kind MemberKind
	Type string
}

// Registry is the name index. Every field access and method call holds
// lock, normally the simulation engine's step lock, so readers never see a
// cycle half-applied.
type Registry struct {
	mu   sync.RWMutex
	lock sync.Locker

	components map[string]Named
	order      []string

	subs []func(Event)
}

// NewRegistry constructs an empty registry. A nil lock gets a private mutex.
func NewRegistry(lock sync.Locker) *Registry {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Registry{lock: lock, components: make(map[string]Named)}
}

// Register adds c. It returns an error if the name already exists.
func (r *Registry) Register(c Named) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.components[name] = c
	r.order = append(r.order, name)
	return nil
}

// Names returns registered component names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Lookup returns the named component.
func (r *Registry) Lookup(name string) (Named, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// List describes the exported scalar and array fields and the no-arg
// methods of a component, sorted by name.
func (r *Registry) List(component string) ([]Member, error) {
	c, err := r.component(component)
	if err != nil {
		return nil, err
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []Member
	v := reflect.ValueOf(c)
	sv := v
	if sv.Kind() == reflect.Pointer {
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		st := sv.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			if scalarKind(f.Type.Kind()) || isFloatSlice(f.Type) {
				out = append(out, Member{Name: f.Name, Kind: MemberField, Type: f.Type.String()})
			}
		}
	}
	vt := v.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		if m.Type.NumIn() == 1 { // receiver only
			out = append(out, Member{Name: m.Name, Kind: MemberMethod, Type: m.Type.String()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns a scalar field formatted as text.
func (r *Registry) Get(component, field string) (string, error) {
	fv, err := r.field(component, field)
	if err != nil {
		return "", err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	return formatScalar(fv)
}

// GetFloat returns a numeric field, or one element of a number array when
// index >= 0.
func (r *Registry) GetFloat(component, field string, index int) (float64, error) {
	fv, err := r.field(component, field)
	if err != nil {
		return 0, err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if index >= 0 {
		if !isFloatSlice(fv.Type()) {
			return 0, fmt.Errorf("%w: %s.%s", ErrNotArray, component, field)
		}
		if index >= fv.Len() {
			return 0, fmt.Errorf("%w: %s.%s[%d] out of range %d", ErrBadValue, component, field, index, fv.Len())
		}
		return fv.Index(index).Float(), nil
	}
	switch fv.Kind() {
	case reflect.Float32, reflect.Float64:
		return fv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fv.Int()), nil
	case reflect.Bool:
		if fv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s.%s is %s", ErrNotScalar, component, field, fv.Type())
}

// Set parses value into a scalar field.
func (r *Registry) Set(component, field, value string) error {
	fv, err := r.field(component, field)
	if err != nil {
		return err
	}
	r.lock.Lock()
	err = parseScalar(fv, value)
	r.lock.Unlock()
	if err != nil {
		return fmt.Errorf("%s.%s: %w", component, field, err)
	}
	r.notify(Event{Type: EventFieldSet, Component: component, Member: field})
	return nil
}

// GetArray returns a copy of a number array field.
func (r *Registry) GetArray(component, field string) ([]float64, error) {
	fv, err := r.field(component, field)
	if err != nil {
		return nil, err
	}
	if !isFloatSlice(fv.Type()) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotArray, component, field)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]float64(nil), fv.Interface().([]float64)...), nil
}

// SetArray overwrites a number array field. The length must not change,
// since components size their arrays at construction.
func (r *Registry) SetArray(component, field string, values []float64) error {
	fv, err := r.field(component, field)
	if err != nil {
		return err
	}
	if !isFloatSlice(fv.Type()) {
		return fmt.Errorf("%w: %s.%s", ErrNotArray, component, field)
	}
	r.lock.Lock()
	if fv.Len() != len(values) {
		n := fv.Len()
		r.lock.Unlock()
		return fmt.Errorf("%w: %s.%s has %d elements, got %d", ErrBadValue, component, field, n, len(values))
	}
	reflect.Copy(fv, reflect.ValueOf(values))
	r.lock.Unlock()
	r.notify(Event{Type: EventFieldSet, Component: component, Member: field})
	return nil
}

// Call invokes a method taking no arguments and returns its results as
// text. A non-nil trailing error result is returned as the error.
func (r *Registry) Call(component, method string) ([]string, error) {
	c, err := r.component(component)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(c)
	m, name, ok := methodByName(v, method)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, component, method)
	}
	if m.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%w: %s.%s takes arguments", ErrMethodNotFound, component, method)
	}

	r.lock.Lock()
	results := m.Call(nil)
	r.lock.Unlock()

	errType := reflect.TypeOf((*error)(nil)).Elem()
	var out []string
	for i, res := range results {
		if i == len(results)-1 && res.Type() == errType {
			if !res.IsNil() {
				return out, res.Interface().(error)
			}
			continue
		}
		out = append(out, fmt.Sprint(res.Interface()))
	}
	r.notify(Event{Type: EventMethodCalled, Component: component, Member: name})
	return out, nil
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < 0 || idx >= len(r.subs) {
			return
		}
		r.subs = append(r.subs[:idx], r.subs[idx+1:]...)
		idx = -1
	}
}

// notify calls subscribers outside the lock.
func (r *Registry) notify(e Event) {
	r.mu.RLock()
	subs := append([]func(Event){}, r.subs...)
	r.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (r *Registry) component(name string) (Named, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrComponentNotFound, name)
	}
	return c, nil
}

// field resolves an exported, non-embedded field by case-insensitive name.
func (r *Registry) field(component, field string) (reflect.Value, error) {
	c, err := r.component(component)
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.ValueOf(c)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s is not a struct", ErrFieldNotFound, component)
	}
	st := v.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if f.IsExported() && !f.Anonymous && strings.EqualFold(f.Name, field) {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, component, field)
}

func methodByName(v reflect.Value, name string) (reflect.Value, string, bool) {
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		if m := t.Method(i); strings.EqualFold(m.Name, name) {
			return v.Method(i), m.Name, true
		}
	}
	return reflect.Value{}, "", false
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isFloatSlice(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Float64
}

func formatScalar(v reflect.Value) (string, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.String:
		return v.String(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotScalar, v.Type())
}

func parseScalar(v reflect.Value, s string) error {
	s = strings.TrimSpace(s)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadValue, s)
		}
		v.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v.OverflowInt(n) {
			return fmt.Errorf("%w: %q", ErrBadValue, s)
		}
		v.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadValue, s)
		}
		v.SetBool(b)
	case reflect.String:
		v.SetString(s)
	default:
		return fmt.Errorf("%w: %s", ErrNotScalar, v.Type())
	}
	return nil
}

// Variable is a parsed "component.Field" or "component.Field[i]" reference.
type Variable struct {
	Component string
	Field     string
	Index     int // -1 for scalars
}

func (v Variable) String() string {
	if v.Index >= 0 {
		return fmt.Sprintf("%s.%s[%d]", v.Component, v.Field, v.Index)
	}
	return v.Component + "." + v.Field
}

// ParseVariable parses a sampling reference.
func ParseVariable(s string) (Variable, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Variable{}, fmt.Errorf("%w: %q", ErrBadVariable, s)
	}
	v := Variable{Component: s[:i], Field: s[i+1:], Index: -1}
	if open := strings.Index(v.Field, "["); open >= 0 {
		if !strings.HasSuffix(v.Field, "]") {
			return Variable{}, fmt.Errorf("%w: %q", ErrBadVariable, s)
		}
		n, err := strconv.Atoi(v.Field[open+1 : len(v.Field)-1])
		if err != nil || n < 0 {
			return Variable{}, fmt.Errorf("%w: %q", ErrBadVariable, s)
		}
		v.Field, v.Index = v.Field[:open], n
	}
	return v, nil
}

// Sample reads a numeric variable.
func (r *Registry) Sample(v Variable) (float64, error) {
	return r.GetFloat(v.Component, v.Field, v.Index)
}
