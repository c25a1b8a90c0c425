package observability

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/propulsion-simulator/internal/logging"
)

// SimulatorService is the health service name reported for the running
// simulation. The empty name reports the process as a whole.
const SimulatorService = "propulsion.Simulator"

// HealthServer is a gRPC server exposing grpc.health.v1 for the simulator
// process. The simulation service is NOT_SERVING until SetServing(true).
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealthServer builds the gRPC server with tracing and request metrics.
func NewHealthServer(collector *SimCollector, log logging.Logger) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(SimulatorService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{server: srv, health: hs, log: log}
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info(context.Background(), "starting health server", logging.String("addr", lis.Addr().String()))
	if err := h.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// SetServing flips the simulator service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(SimulatorService, status)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
