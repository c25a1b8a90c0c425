package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/propulsion-simulator/bus"
	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/model"
)

var _ bus.Observer = (*SimCollector)(nil)

func TestObserveCycleRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveCycle(core.StepReport{Cycle: 0, MissionTime: 100 * time.Millisecond, Rounds: 3, Converged: true, Duration: time.Millisecond})
	collector.ObserveCycle(core.StepReport{Cycle: 1, MissionTime: 200 * time.Millisecond, Rounds: 50, Converged: false, Duration: 2 * time.Millisecond})

	if got := testutil.ToFloat64(collector.Cycles); got != 2 {
		t.Fatalf("sim_cycles_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.NonConverged); got != 1 {
		t.Fatalf("sim_nonconverged_cycles_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.MissionTime); got != 0.2 {
		t.Fatalf("sim_mission_time_seconds = %v, want 0.2", got)
	}
	if count := histogramSampleCount(t, reg, "sim_cycle_rounds", nil); count != 2 {
		t.Fatalf("sim_cycle_rounds sample_count = %d, want 2", count)
	}
}

func TestPhaseAndSeparationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObservePhase(model.Iteration, time.Microsecond)
	collector.ObservePhase(model.Iteration, time.Microsecond)
	collector.ObservePhase(model.TimeIteration, time.Microsecond)
	collector.IncIncompletePhase(model.BackIteration)
	collector.IncFlowSeparation()

	if count := histogramSampleCount(t, reg, "sim_phase_duration_seconds", map[string]string{"phase": model.Iteration.String()}); count != 2 {
		t.Fatalf("iteration phase sample_count = %d, want 2", count)
	}
	if got := testutil.ToFloat64(collector.IncompletePhases.WithLabelValues(model.BackIteration.String())); got != 1 {
		t.Fatalf("sim_incomplete_phases_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FlowSeparations); got != 1 {
		t.Fatalf("sim_flow_separations_total = %v, want 1", got)
	}
}

func TestDeliveredCountsSubscribers(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.Delivered("tank", model.Iteration, 2)
	collector.Delivered("tank", model.Iteration, 1)
	collector.Delivered("tank", model.BackIteration, 0)

	if got := testutil.ToFloat64(collector.BusDeliveries.WithLabelValues("tank", model.Iteration.String())); got != 3 {
		t.Fatalf("sim_bus_deliveries_total = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(collector.BusDeliveries); got != 1 {
		t.Fatalf("bus delivery series = %d, want 1 (zero deliveries are not recorded)", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	first.Cycles.Inc()
	if got := testutil.ToFloat64(second.Cycles); got != 1 {
		t.Fatalf("second collector did not share sim_cycles_total: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveCycle(core.StepReport{})
	c.ObservePhase(model.Iteration, time.Second)
	c.IncIncompletePhase(model.Iteration)
	c.IncFlowSeparation()
	c.Delivered("x", model.Iteration, 1)
	c.SetComponentValue("x", "y", 1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("sim_grpc_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("sim_grpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Watch", "NotFound")); got != 1 {
		t.Fatalf("sim_grpc_requests_total error label = %v, want 1", got)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"":                             {"unknown", "unknown"},
		"/grpc.health.v1.Health/Check": {"Health", "Check"},
		"Health/Check":                 {"Health", "Check"},
		"/Check":                       {"unknown", "unknown"},
		"/svc/":                        {"svc", "unknown"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = %q,%q want %q,%q", in, svc, m, want[0], want[1])
		}
	}
}

func TestMetricsHandlerExposesComponentValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.SetComponentValue("fuel_tank", "UllagePressure", 1.8e6)
	collector.ObserveCycle(core.StepReport{Rounds: 1, Converged: true})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_cycles_total",
		"sim_cycle_rounds",
		`sim_component_value{component="fuel_tank",variable="UllagePressure"} 1.8e+06`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
