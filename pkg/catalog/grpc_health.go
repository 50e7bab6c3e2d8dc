package catalog

import (
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix namespaces per-agent services in the gRPC health server.
const ServicePrefix = "agora.agent."

// GRPCHealthReporter mirrors catalog health into a gRPC health server. Each
// agent is published as ServicePrefix+name, and the overall service ("") is
// SERVING while at least one agent is healthy.
type GRPCHealthReporter struct {
	server *health.Server

	mu     sync.Mutex
	agents map[string]bool
}

// NewGRPCHealthReporter publishes into server. Attach it with
// Catalog.Observe(reporter.Observe).
func NewGRPCHealthReporter(server *health.Server) *GRPCHealthReporter {
	r := &GRPCHealthReporter{server: server, agents: make(map[string]bool)}
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Observe implements HealthObserver.
func (r *GRPCHealthReporter) Observe(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = healthy
	r.server.SetServingStatus(ServicePrefix+name, servingStatus(healthy))

	overall := false
	for _, ok := range r.agents {
		if ok {
			overall = true
			break
		}
	}
	r.server.SetServingStatus("", servingStatus(overall))
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
