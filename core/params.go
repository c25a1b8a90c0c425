package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrParamType is returned when a parameter cannot be resolved to the type
// its component expects.
var ErrParamType = errors.New("parameter has wrong type")

// Params holds a component's configuration as loaded from a scenario file.
// Values are float64, []float64 or string after resolution; decoders may
// also hand over ints, []any and numeric strings, which are converted.
type Params map[string]any

// paramReader resolves typed values with defaults and records every key it
// was asked for, so leftovers can be reported as unknown.
type paramReader struct {
	component string
	params    Params
	used      map[string]bool
	errs      []error
}

func newParamReader(component string, p Params) *paramReader {
	if p == nil {
		p = Params{}
	}
	return &paramReader{component: component, params: p, used: make(map[string]bool)}
}

func (r *paramReader) lookup(key string) (any, bool) {
	r.used[key] = true
	v, ok := r.params[key]
	return v, ok
}

// Float returns the named parameter or def when absent.
func (r *paramReader) Float(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := toFloat(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.%s: %v", ErrParamType, r.component, key, err))
		return def
	}
	return f
}

// Floats returns the named array parameter or def when absent.
func (r *paramReader) Floats(key string, def []float64) []float64 {
	v, ok := r.lookup(key)
	if !ok {
		return append([]float64(nil), def...)
	}
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...)
	case []any:
		out := make([]float64, 0, len(t))
		for i, e := range t {
			f, err := toFloat(e)
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("%w: %s.%s[%d]: %v", ErrParamType, r.component, key, i, err))
				return append([]float64(nil), def...)
			}
			out = append(out, f)
		}
		return out
	default:
		f, err := toFloat(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%w: %s.%s: want number array, got %T", ErrParamType, r.component, key, v))
			return append([]float64(nil), def...)
		}
		return []float64{f}
	}
}

// String returns the named string parameter or def when absent.
func (r *paramReader) String(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, isString := v.(string)
	if !isString {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.%s: want string, got %T", ErrParamType, r.component, key, v))
		return def
	}
	return s
}

// Positive records an error when v is not strictly positive.
func (r *paramReader) Positive(key string, v float64) {
	if v <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%w: %s.%s must be positive, got %g", ErrParamType, r.component, key, v))
	}
}

// Unknown lists parameter keys that were never read, sorted.
func (r *paramReader) Unknown() []string {
	var out []string
	for k := range r.params {
		if !r.used[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Err joins all resolution errors.
func (r *paramReader) Err() error {
	return errors.Join(r.errs...)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("want number, got %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}
