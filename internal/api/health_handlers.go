package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := make(map[string]ComponentHealth)
	overall := "healthy"

	// Check the registry (BadgerDB)
	registryHealth := s.checkRegistry(ctx)
	components["registry"] = registryHealth
	if registryHealth.Status != "healthy" {
		overall = "unhealthy"
	}

	// Check the remote records service. The server still works for
	// configuration changes while records is down, so this only degrades.
	recordsHealth := s.checkRecords(ctx)
	components["records"] = recordsHealth
	if recordsHealth.Status == "unhealthy" && overall == "healthy" {
		overall = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkRegistry verifies the local registry is accessible.
func (s *Server) checkRegistry(ctx context.Context) ComponentHealth {
	// Handle nil registry (e.g., in tests)
	if s.registry == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "registry not configured",
		}
	}

	start := time.Now()

	// Quick read to verify the database is accessible. An empty registry
	// is fine; a failed read is not.
	_, err := s.registry.CountUsers(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: "registry read failed",
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

// checkRecords probes the remote records service.
func (s *Server) checkRecords(ctx context.Context) ComponentHealth {
	// Handle nil opener (e.g., in tests)
	if s.opener == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "records client not configured",
		}
	}

	start := time.Now()
	err := s.opener.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: "records service unreachable",
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Latency: latency.String(),
	}
}
