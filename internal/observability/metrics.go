package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/propulsion-simulator/core"
	"github.com/signalsfoundry/propulsion-simulator/model"
)

// SimCollector bundles Prometheus metrics for the cycle driver, the port
// bus and sampled component values. It implements core.CycleMetricsRecorder
// and bus.Observer.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Cycles           prometheus.Counter
	CycleDuration    prometheus.Histogram
	Rounds           prometheus.Histogram
	NonConverged     prometheus.Counter
	FlowSeparations  prometheus.Counter
	MissionTime      prometheus.Gauge
	PhaseDurations   *prometheus.HistogramVec
	IncompletePhases *prometheus.CounterVec
	BusDeliveries    *prometheus.CounterVec
	ComponentValues  *prometheus.GaugeVec
	RPCRequests      *prometheus.CounterVec
	RPCDurations     *prometheus.HistogramVec
}

var _ core.CycleMetricsRecorder = (*SimCollector)(nil)

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_cycles_total",
		Help: "Completed simulation cycles.",
	}), "sim_cycles_total")
	if err != nil {
		return nil, err
	}
	cycleDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_cycle_duration_seconds",
		Help:    "Wall-clock time spent computing one cycle.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "sim_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	rounds, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_cycle_rounds",
		Help:    "BackIteration/Iteration rounds needed per cycle.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
	}), "sim_cycle_rounds")
	if err != nil {
		return nil, err
	}
	nonConverged, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_nonconverged_cycles_total",
		Help: "Cycles committed after hitting the round limit.",
	}), "sim_nonconverged_cycles_total")
	if err != nil {
		return nil, err
	}
	separations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_flow_separations_total",
		Help: "Phases in which a nozzle reported flow separation.",
	}), "sim_flow_separations_total")
	if err != nil {
		return nil, err
	}
	missionTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_mission_time_seconds",
		Help: "Simulated time elapsed since the start of the run.",
	}), "sim_mission_time_seconds")
	if err != nil {
		return nil, err
	}
	phases, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_phase_duration_seconds",
		Help:    "Wall-clock time spent propagating one phase.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"phase"}), "sim_phase_duration_seconds")
	if err != nil {
		return nil, err
	}
	incomplete, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_incomplete_phases_total",
		Help: "Phases that ended with components still waiting for inputs.",
	}, []string{"phase"}), "sim_incomplete_phases_total")
	if err != nil {
		return nil, err
	}
	deliveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_bus_deliveries_total",
		Help: "Port values delivered over the bus, labeled by source component and phase.",
	}, []string{"source", "phase"}), "sim_bus_deliveries_total")
	if err != nil {
		return nil, err
	}
	values, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_component_value",
		Help: "Sampled component variables, labeled by component and variable.",
	}, []string{"component", "variable"}), "sim_component_value")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sim_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "sim_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		Cycles:           cycles,
		CycleDuration:    cycleDuration,
		Rounds:           rounds,
		NonConverged:     nonConverged,
		FlowSeparations:  separations,
		MissionTime:      missionTime,
		PhaseDurations:   phases,
		IncompletePhases: incomplete,
		BusDeliveries:    deliveries,
		ComponentValues:  values,
		RPCRequests:      requests,
		RPCDurations:     durations,
	}, nil
}

// ObserveCycle records one completed cycle.
func (c *SimCollector) ObserveCycle(r core.StepReport) {
	if c == nil {
		return
	}
	c.Cycles.Inc()
	c.CycleDuration.Observe(r.Duration.Seconds())
	c.Rounds.Observe(float64(r.Rounds))
	c.MissionTime.Set(r.MissionTime.Seconds())
	if !r.Converged {
		c.NonConverged.Inc()
	}
}

// ObservePhase records the time spent in one phase.
func (c *SimCollector) ObservePhase(phase model.Phase, d time.Duration) {
	if c == nil {
		return
	}
	c.PhaseDurations.WithLabelValues(phase.String()).Observe(d.Seconds())
}

// IncIncompletePhase counts a phase that stalled.
func (c *SimCollector) IncIncompletePhase(phase model.Phase) {
	if c == nil {
		return
	}
	c.IncompletePhases.WithLabelValues(phase.String()).Inc()
}

// IncFlowSeparation counts a flagged nozzle flow separation.
func (c *SimCollector) IncFlowSeparation() {
	if c == nil {
		return
	}
	c.FlowSeparations.Inc()
}

// Delivered implements bus.Observer.
func (c *SimCollector) Delivered(source string, phase model.Phase, subscribers int) {
	if c == nil || subscribers == 0 {
		return
	}
	c.BusDeliveries.WithLabelValues(source, phase.String()).Add(float64(subscribers))
}

// SetComponentValue mirrors a sampled variable into the component gauge.
func (c *SimCollector) SetComponentValue(component, variable string, v float64) {
	if c == nil {
		return
	}
	c.ComponentValues.WithLabelValues(component, variable).Set(v)
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds collector to reg, returning the existing collector of the
// same type when an identical one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, c, name)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	return register(reg, h, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	return register(reg, g, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}
