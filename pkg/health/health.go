// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rakrong1/ladicare-sub000/pkg/httputil"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Status of one dependency or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the body of both endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency.
type CheckResult struct {
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type dependency struct {
	check    Checker
	critical bool
}

// Handler runs the registered checks. A critical dependency that is down
// makes the service unready (503); a non-critical one only degrades it.
type Handler struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	timeout time.Duration
}

// NewHandler returns a Handler whose checks share a 5s budget per request.
func NewHandler() *Handler {
	return &Handler{deps: make(map[string]dependency), timeout: 5 * time.Second}
}

// RegisterCritical adds or replaces a dependency the service cannot serve
// without.
func (h *Handler) RegisterCritical(name string, check Checker) {
	h.set(name, dependency{check: check, critical: true})
}

// RegisterNonCritical adds or replaces a dependency the service can limp
// along without.
func (h *Handler) RegisterNonCritical(name string, check Checker) {
	h.set(name, dependency{check: check})
}

func (h *Handler) set(name string, d dependency) {
	h.mu.Lock()
	h.deps[name] = d
	h.mu.Unlock()
}

// LivenessHandler answers 200 while the process serves HTTP at all.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: time.Now().UTC()})
	}
}

// ReadinessHandler runs every check and answers 503 when the service is down.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		resp := h.Check(ctx)
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	}
}

// Check runs all checks concurrently.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	deps := make([]dependency, 0, len(h.deps))
	for name, d := range h.deps {
		names = append(names, name)
		deps = append(deps, d)
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := d.check(ctx)
			results[i] = CheckResult{Status: StatusUp, Critical: d.critical, DurationMs: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = StatusDown
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()

	resp := Response{Status: StatusUp, Timestamp: time.Now().UTC(), Checks: make(map[string]CheckResult, len(results))}
	for i, res := range results {
		resp.Checks[names[i]] = res
		switch {
		case res.Status == StatusUp:
		case res.Critical:
			resp.Status = StatusDown
		case resp.Status != StatusDown:
			resp.Status = StatusDegraded
		}
	}
	return resp
}
