package http

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines  int    `json:"goroutines"`
	MemoryMB    uint64 `json:"memory_mb"`
	CPUCount    int    `json:"cpu_count"`
	ActiveCalls int    `json:"active_calls"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if s.registry != nil {
		health.Checks["sessions"] = CheckResult{
			Status:  "healthy",
			Message: "Session registry operational",
		}
		health.System.ActiveCalls = s.registry.Count()
	} else {
		health.Checks["sessions"] = CheckResult{
			Status:  "unhealthy",
			Message: "Session registry not available",
		}
		health.Status = "unhealthy"
	}

	if s.database != nil {
		if err := s.database.Health(); err != nil {
			health.Checks["database"] = CheckResult{
				Status:  "degraded",
				Message: fmt.Sprintf("Database unhealthy: %v", err),
			}
			health.Status = "degraded"
		} else {
			health.Checks["database"] = CheckResult{
				Status:  "healthy",
				Message: "Database connected",
			}
		}
	}

	if s.amqpClient != nil {
		if s.amqpClient.IsConnected() {
			health.Checks["amqp"] = CheckResult{
				Status:  "healthy",
				Message: "AMQP connected",
			}
		} else {
			health.Checks["amqp"] = CheckResult{
				Status:  "degraded",
				Message: "AMQP disconnected",
			}
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = memStats.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

// LivenessHandler reports that the process is alive
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessHandler reports whether the service can take traffic.
// The database is the only hard dependency; AMQP and the knowledge
// store degrade gracefully.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.database != nil {
		if err := s.database.Health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
