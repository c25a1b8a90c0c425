package kb

import (
	"errors"
	"sync"
	"testing"
)

type fakeTank struct {
	name string

	Pressure float64
	Temps    []float64
	Sealed   bool
	Fluid    string
	Count    int

	hidden float64
}

func (f *fakeTank) Name() string { return f.name }

func (f *fakeTank) TotalMass() float64 { return 42.5 }

func (f *fakeTank) Vent() error {
	if f.Sealed {
		return errors.New("sealed")
	}
	f.Pressure = 0
	return nil
}

func (f *fakeTank) Scale(k float64) { f.Pressure *= k }

func newRegistry(t *testing.T) (*Registry, *fakeTank) {
	t.Helper()
	r := NewRegistry(nil)
	tank := &fakeTank{name: "tank", Pressure: 2e6, Temps: []float64{290, 291, 292}, Fluid: "mmh", Count: 3}
	if err := r.Register(tank); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	return r, tank
}

func TestRegisterDuplicate(t *testing.T) {
	r, _ := newRegistry(t)
	if err := r.Register(&fakeTank{name: "tank"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Register duplicate = %v, want ErrDuplicate", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "tank" {
		t.Fatalf("Names = %v, want [tank]", names)
	}
}

func TestGetSetScalar(t *testing.T) {
	r, tank := newRegistry(t)

	got, err := r.Get("tank", "pressure")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "2e+06" {
		t.Fatalf("Get pressure = %q, want 2e+06", got)
	}

	if err := r.Set("tank", "Pressure", "1.5e6"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if tank.Pressure != 1.5e6 {
		t.Fatalf("Pressure = %v, want 1.5e6", tank.Pressure)
	}
	if err := r.Set("tank", "sealed", "true"); err != nil || !tank.Sealed {
		t.Fatalf("Set bool: err=%v sealed=%v", err, tank.Sealed)
	}
	if err := r.Set("tank", "count", "7"); err != nil || tank.Count != 7 {
		t.Fatalf("Set int: err=%v count=%v", err, tank.Count)
	}
	if err := r.Set("tank", "fluid", "nto"); err != nil || tank.Fluid != "nto" {
		t.Fatalf("Set string: err=%v fluid=%v", err, tank.Fluid)
	}
}

func TestSetRejectsBadValue(t *testing.T) {
	r, tank := newRegistry(t)
	if err := r.Set("tank", "pressure", "high"); !errors.Is(err, ErrBadValue) {
		t.Fatalf("Set = %v, want ErrBadValue", err)
	}
	if tank.Pressure != 2e6 {
		t.Fatalf("Pressure changed to %v on failed Set", tank.Pressure)
	}
	if err := r.Set("tank", "temps", "1"); !errors.Is(err, ErrNotScalar) {
		t.Fatalf("Set array as scalar = %v, want ErrNotScalar", err)
	}
}

func TestLookupErrors(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.Get("valve", "x"); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("Get unknown component = %v", err)
	}
	if _, err := r.Get("tank", "hidden"); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("Get unexported field = %v", err)
	}
	if _, err := r.Call("tank", "Explode"); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("Call unknown method = %v", err)
	}
	if _, err := r.Call("tank", "Scale"); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("Call method with args = %v", err)
	}
}

func TestArrays(t *testing.T) {
	r, tank := newRegistry(t)
	got, err := r.GetArray("tank", "temps")
	if err != nil {
		t.Fatalf("GetArray error: %v", err)
	}
	got[0] = 0
	if tank.Temps[0] != 290 {
		t.Fatalf("GetArray returned an alias of the field")
	}

	if err := r.SetArray("tank", "Temps", []float64{1, 2, 3}); err != nil {
		t.Fatalf("SetArray error: %v", err)
	}
	if tank.Temps[2] != 3 {
		t.Fatalf("Temps = %v, want [1 2 3]", tank.Temps)
	}
	if err := r.SetArray("tank", "Temps", []float64{1}); !errors.Is(err, ErrBadValue) {
		t.Fatalf("SetArray wrong length = %v, want ErrBadValue", err)
	}
	if _, err := r.GetArray("tank", "pressure"); !errors.Is(err, ErrNotArray) {
		t.Fatalf("GetArray scalar = %v, want ErrNotArray", err)
	}
}

func TestCall(t *testing.T) {
	r, tank := newRegistry(t)
	out, err := r.Call("tank", "totalmass")
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if len(out) != 1 || out[0] != "42.5" {
		t.Fatalf("Call TotalMass = %v, want [42.5]", out)
	}

	if _, err := r.Call("tank", "Vent"); err != nil || tank.Pressure != 0 {
		t.Fatalf("Call Vent: err=%v pressure=%v", err, tank.Pressure)
	}
	tank.Sealed = true
	if _, err := r.Call("tank", "Vent"); err == nil || err.Error() != "sealed" {
		t.Fatalf("Call Vent sealed = %v, want sealed error", err)
	}
}

func TestList(t *testing.T) {
	r, _ := newRegistry(t)
	members, err := r.List("tank")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	want := map[string]MemberKind{
		"Pressure": MemberField, "Temps": MemberField, "Sealed": MemberField,
		"Fluid": MemberField, "Count": MemberField,
		"Name": MemberMethod, "TotalMass": MemberMethod, "Vent": MemberMethod,
	}
	if len(members) != len(want) {
		t.Fatalf("List = %+v, want %d members", members, len(want))
	}
	for i, m := range members {
		if kind, ok := want[m.Name]; !ok || kind != m.Kind {
			t.Fatalf("unexpected member %+v", m)
		}
		if i > 0 && members[i-1].Name > m.Name {
			t.Fatalf("List not sorted: %v before %v", members[i-1].Name, m.Name)
		}
	}
}

func TestParseVariableAndSample(t *testing.T) {
	r, _ := newRegistry(t)

	v, err := ParseVariable("tank.Temps[1]")
	if err != nil {
		t.Fatalf("ParseVariable error: %v", err)
	}
	if v.Component != "tank" || v.Field != "Temps" || v.Index != 1 {
		t.Fatalf("ParseVariable = %+v", v)
	}
	if v.String() != "tank.Temps[1]" {
		t.Fatalf("String = %q", v.String())
	}
	got, err := r.Sample(v)
	if err != nil || got != 291 {
		t.Fatalf("Sample = %v, %v; want 291", got, err)
	}

	scalar, _ := ParseVariable("tank.Sealed")
	if got, err := r.Sample(scalar); err != nil || got != 0 {
		t.Fatalf("Sample bool = %v, %v; want 0", got, err)
	}
	out, _ := ParseVariable("tank.Temps[9]")
	if _, err := r.Sample(out); !errors.Is(err, ErrBadValue) {
		t.Fatalf("Sample out of range = %v", err)
	}

	for _, bad := range []string{"tank", ".x", "tank.", "tank.Temps[", "tank.Temps[-1]", "tank.Temps[a]"} {
		if _, err := ParseVariable(bad); !errors.Is(err, ErrBadVariable) {
			t.Fatalf("ParseVariable(%q) = %v, want ErrBadVariable", bad, err)
		}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	r, _ := newRegistry(t)

	var mu sync.Mutex
	var events []Event
	unsubscribe := r.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	if err := r.Set("tank", "Pressure", "1"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if _, err := r.Call("tank", "TotalMass"); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	mu.Lock()
	if len(events) != 2 {
		mu.Unlock()
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventFieldSet || events[0].Member != "Pressure" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != EventMethodCalled || events[1].Member != "TotalMass" {
		t.Fatalf("second event = %+v", events[1])
	}
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	if err := r.Set("tank", "Pressure", "2"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("received %d events after unsubscribe", len(events))
	}
}

func TestAccessHoldsSharedLock(t *testing.T) {
	var lock sync.Mutex
	r := NewRegistry(&lock)
	if err := r.Register(&fakeTank{name: "tank", Pressure: 1}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	lock.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Get("tank", "Pressure")
	}()
	select {
	case <-done:
		t.Fatalf("Get returned while the shared lock was held")
	default:
	}
	lock.Unlock()
	<-done
}
