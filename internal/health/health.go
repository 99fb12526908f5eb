// Package health serves the liveness and readiness endpoints for a running
// parlance instance.
//
//   - /healthz — liveness probe; reports the service name, version, and
//     uptime, and always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when every registered
//     [Checker] passes, so a load balancer can stop routing new
//     conversations to an instance whose dependencies are down or whose
//     session registry is full.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const serviceName = "parlance"

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// can serve a new conversation and a non-nil error describing why not.
type Checker struct {
	// Name labels this check in the JSON response (e.g. "database",
	// "sessions").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger adapts anything with a Ping method, such as the conversation
// history store, into a readiness checker.
func Pinger(name string, p interface {
	Ping(ctx context.Context) error
}) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Capacity fails once active sessions reach the configured limit. A max of
// zero or less means unlimited and the check always passes.
func Capacity(name string, active func() int, max int) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if max <= 0 {
			return nil
		}
		if n := active(); n >= max {
			return fmt.Errorf("at capacity: %d/%d sessions", n, max)
		}
		return nil
	}}
}

// checkState is one checker's outcome in the readiness response.
type checkState struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// result is the JSON response body for both endpoints.
type result struct {
	Status  string                `json:"status"`
	Service string                `json:"service"`
	Version string                `json:"version,omitempty"`
	Uptime  string                `json:"uptime,omitempty"`
	Checks  map[string]checkState `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	version  string
	started  time.Time
	checkers []Checker
}

// New creates a [Handler] reporting the given build version. The checkers
// are evaluated sequentially, in order, on each /readyz request.
func New(version string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{version: version, started: time.Now(), checkers: c}
}

// Healthz is the liveness probe. A process that can serve HTTP is alive, so
// it always returns 200 with the instance's identity and uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status:  "ok",
		Service: serviceName,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe. Each checker runs under a [checkTimeout]
// deadline derived from the request context; any failure yields 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkState, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Check(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)
		cancel()

		state := checkState{Status: "ok", Elapsed: elapsed.String()}
		if err != nil {
			state.Status = "fail"
			state.Error = err.Error()
			allOK = false
		}
		checks[c.Name] = state
	}

	res := result{
		Status:  "ok",
		Service: serviceName,
		Checks:  checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
