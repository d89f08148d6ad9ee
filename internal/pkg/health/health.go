// Package health serves liveness and readiness endpoints backed by a set of
// component checkers.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                     `json:"status"`
	Version    string                     `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// Registry holds the checkers consulted by the readiness endpoints.
type Registry struct {
	version  string
	timeout  time.Duration
	mu       sync.RWMutex
	checkers []Checker
}

func NewRegistry(version string) *Registry {
	return &Registry{version: version, timeout: 5 * time.Second}
}

func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, c)
}

// Check runs every checker and folds the results into one status. Any
// unhealthy component makes the whole service unhealthy.
func (r *Registry) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	resp := Response{
		Status:     StatusHealthy,
		Version:    r.version,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(checkers)),
	}
	for _, c := range checkers {
		h := c.Check(ctx)
		resp.Components[c.Name()] = h
		switch {
		case h.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case h.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// LiveHandler always answers 200 while the process is serving.
func (r *Registry) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadyHandler answers 503 when any component is unhealthy.
func (r *Registry) ReadyHandler(w http.ResponseWriter, req *http.Request) {
	resp := r.Check(req.Context())
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// PingChecker adapts any Ping-style dependency (order store, redis) into a
// Checker.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	optional bool
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewOptionalChecker reports failures as degraded rather than unhealthy, for
// dependencies the service can run without.
func NewOptionalChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, optional: true}
}

func (p *PingChecker) Name() string { return p.name }

func (p *PingChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start)

	if err != nil {
		status := StatusUnhealthy
		if p.optional {
			status = StatusDegraded
		}
		return ComponentHealth{
			Status:  status,
			Message: fmt.Sprintf("%s ping failed: %v", p.name, err),
			Latency: latency.String(),
		}
	}
	return ComponentHealth{Status: StatusHealthy, Latency: latency.String()}
}
