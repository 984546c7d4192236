package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name     string
	critical bool
	check    CheckFunc
}

// HealthChecker aggregates dependency probes. A failing critical dependency
// makes the service unhealthy; a failing optional one degrades it.
type HealthChecker struct {
	version string
	timeout time.Duration

	mu   sync.RWMutex
	deps []dependency
}

// NewHealthChecker creates a health checker reporting version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version, timeout: 5 * time.Second}
}

// AddCheck registers a dependency probe
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, dependency{name: name, critical: critical, check: check})
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
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every probe concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}

	results := make([]DependencyStatus, len(deps))
	var wg sync.WaitGroup
	for i, dep := range deps {
		wg.Add(1)
		go func(i int, dep dependency) {
			defer wg.Done()
			start := time.Now()
			result := DependencyStatus{Status: StatusHealthy, Timestamp: start}
			if err := dep.check(ctx); err != nil {
				result.Status = StatusUnhealthy
				result.Message = err.Error()
			}
			result.Latency = time.Since(start)
			results[i] = result
		}(i, dep)
	}
	wg.Wait()

	for i, dep := range deps {
		status.Dependencies[dep.name] = results[i]
		if results[i].Status != StatusUnhealthy {
			continue
		}
		if dep.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers the liveness and readiness endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/-/liveness", checker.Liveness)
	mux.HandleFunc("/-/readiness", checker.Readiness)
}
