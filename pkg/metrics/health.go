package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the body served on /health.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck performs a single check.
type HealthCheck func() CheckResult

// HealthChecker aggregates named checks.
type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker returns a checker with no checks, which reports healthy.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{service: service, version: version, checks: make(map[string]HealthCheck)}
}

// AddCheck registers check under name, replacing any previous one.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

// CheckHealth runs every check. Any unhealthy check makes the whole status
// unhealthy; otherwise any degraded check makes it degraded.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = hc.checks[name]
	}
	hc.mu.RUnlock()

	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	anyUnhealthy, anyDegraded := false, false
	for i, name := range names {
		result := checks[i]()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// ServeHTTP writes the health status as JSON, with 503 when unhealthy.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	health := hc.CheckHealth()
	code := http.StatusOK
	if health.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(health)
}

// FreshnessCheck reports degraded when last() is older than maxAge and
// unhealthy when nothing was ever recorded.
func FreshnessCheck(last func() time.Time, maxAge time.Duration) HealthCheck {
	return func() CheckResult {
		t := last()
		if t.IsZero() {
			return CheckResult{Status: StatusUnhealthy, Message: "no successful poll yet"}
		}
		if age := time.Since(t); age > maxAge {
			return CheckResult{Status: StatusDegraded, Message: "last successful poll " + age.Truncate(time.Second).String() + " ago"}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
