package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// StorageChecker is the subset of the storage backend used by health checks.
type StorageChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker probes the storage backend and the session database.
type HealthChecker struct {
	storage StorageChecker
	metaDB  *sql.DB
	version string
}

// NewHealthChecker creates a new health checker. metaDB may be nil when
// sessions are kept in memory.
func NewHealthChecker(storage StorageChecker, metaDB *sql.DB, version string) *HealthChecker {
	return &HealthChecker{
		storage: storage,
		metaDB:  metaDB,
		version: version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always returns 200 while the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness checks every dependency. Returns 503 when unhealthy.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Check probes all dependencies and aggregates the result.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.storage != nil {
		dep := h.checkStorage(ctx)
		status.Dependencies["storage"] = dep
		if dep.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.metaDB != nil {
		dep := h.checkMetaDB(ctx)
		status.Dependencies["sessions"] = dep
		// The session database only degrades readiness: API key auth
		// still works without it.
		if dep.Status == StatusUnhealthy && status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkStorage(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}

	err := h.storage.HealthCheck(ctx)
	dep.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

func (h *HealthChecker) checkMetaDB(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}

	err := h.metaDB.PingContext(ctx)
	dep.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}
