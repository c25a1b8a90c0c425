// Package bus routes port values between named components. A subscription
// is keyed by (source, phase, qualifier set); Publish delivers a payload
// synchronously, in registration order, to every subscription whose
// qualifier set is contained in the published set. There is no queue: a
// handler that publishes again extends the same call stack, so all
// downstream edges are processed before Publish returns.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/propulsion-simulator/model"
)

var (
	// ErrSealed is returned by Subscribe once the topology is frozen.
	ErrSealed = errors.New("bus is sealed")
	// ErrBadSubscription is returned for subscriptions missing a source or handler.
	ErrBadSubscription = errors.New("invalid subscription")
)

// Handler receives a payload published on a matching route.
type Handler func(ctx context.Context, payload model.Port) error

// DeliveryError wraps a handler failure with the route it occurred on.
type DeliveryError struct {
	Source     string
	Subscriber string
	Phase      model.Phase
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s/%s -> %s: %v", e.Source, e.Phase, e.Subscriber, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Route describes one registered subscription.
type Route struct {
	Source     string
	Phase      model.Phase
	Qualifiers []string
	Subscriber string
}

func (r Route) String() string {
	return fmt.Sprintf("%s[%s]{%s} -> %s", r.Source, r.Phase, strings.Join(r.Qualifiers, ","), r.Subscriber)
}

type key struct {
	source string
	phase  model.Phase
}

type subscription struct {
	qualifiers []string
	subscriber string
	handler    Handler
}

// Observer is notified of every delivery; used for metrics.
type Observer interface {
	Delivered(source string, phase model.Phase, subscribers int)
}

// Bus is the publish/subscribe registry. Registration is guarded by a mutex
// so topology can be assembled from several goroutines; publishing works on
// a snapshot of the subscriber list and calls handlers outside the lock.
type Bus struct {
	mu       sync.RWMutex
	subs     map[key][]subscription
	order    []Route
	sealed   bool
	observer Observer
}

// Option customises a Bus.
type Option func(*Bus)

// WithObserver attaches a delivery observer.
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		b.observer = o
	}
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[key][]subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for payloads published by source in phase
// carrying at least the given qualifiers. subscriber names the consumer for
// diagnostics.
func (b *Bus) Subscribe(source string, phase model.Phase, qualifiers []string, subscriber string, handler Handler) error {
	if source == "" || handler == nil || !phase.Valid() {
		return fmt.Errorf("%w: source=%q phase=%s", ErrBadSubscription, source, phase)
	}
	q := normalize(qualifiers)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return fmt.Errorf("%w: subscribe %s to %s", ErrSealed, subscriber, source)
	}
	k := key{source: source, phase: phase}
	b.subs[k] = append(b.subs[k], subscription{qualifiers: q, subscriber: subscriber, handler: handler})
	b.order = append(b.order, Route{Source: source, Phase: phase, Qualifiers: q, Subscriber: subscriber})
	return nil
}

// Seal freezes the topology. Further Subscribe calls fail with ErrSealed.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (b *Bus) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// Publish delivers payload to every matching subscriber in registration
// order. The first handler error stops the fan-out and is returned wrapped
// in a *DeliveryError.
func (b *Bus) Publish(ctx context.Context, source string, phase model.Phase, qualifiers []string, payload model.Port) error {
	q := normalize(qualifiers)

	b.mu.RLock()
	all := b.subs[key{source: source, phase: phase}]
	matched := make([]subscription, 0, len(all))
	for _, s := range all {
		if subset(s.qualifiers, q) {
			matched = append(matched, s)
		}
	}
	observer := b.observer
	b.mu.RUnlock()

	if observer != nil {
		observer.Delivered(source, phase, len(matched))
	}

	for _, s := range matched {
		if err := s.handler(ctx, payload); err != nil {
			var de *DeliveryError
			if errors.As(err, &de) {
				return err
			}
			return &DeliveryError{Source: source, Subscriber: s.subscriber, Phase: phase, Err: err}
		}
	}
	return nil
}

// Routes returns every registered subscription in registration order.
func (b *Bus) Routes() []Route {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Route, len(b.order))
	for i, r := range b.order {
		r.Qualifiers = append([]string(nil), r.Qualifiers...)
		out[i] = r
	}
	return out
}

// Subscribers returns the number of subscriptions for source in phase.
func (b *Bus) Subscribers(source string, phase model.Phase) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key{source: source, phase: phase}])
}

func normalize(qualifiers []string) []string {
	out := make([]string, 0, len(qualifiers))
	for _, q := range qualifiers {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}

// subset reports whether every element of want appears in have. Both are sorted.
func subset(want, have []string) bool {
	i := 0
	for _, w := range want {
		for i < len(have) && have[i] < w {
			i++
		}
		if i == len(have) || have[i] != w {
			return false
		}
		i++
	}
	return true
}
