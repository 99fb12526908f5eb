// Package mock provides a test double for the tools.Runner interface.
package mock

import (
	"context"
	"sync"

	"github.com/parlance-dev/parlance/pkg/tools"
)

// RunCall records one Run invocation.
type RunCall struct {
	Name string
	Args string
}

// Runner is a mock tools.Runner.
type Runner struct {
	mu sync.Mutex

	// Defs is returned from Definitions.
	Defs []tools.Definition

	// Result and Err are returned from Run.
	Result string
	Err    error

	// Statuses are emitted through onStatus, in order, before Run returns.
	Statuses []string

	// RunCalls records every Run call in order.
	RunCalls []RunCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Definitions returns Defs.
func (r *Runner) Definitions() []tools.Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tools.Definition, len(r.Defs))
	copy(out, r.Defs)
	return out
}

// Run records the call, emits Statuses, and returns Result, Err.
func (r *Runner) Run(ctx context.Context, name, args string, onStatus func(string)) (string, error) {
	r.mu.Lock()
	r.RunCalls = append(r.RunCalls, RunCall{Name: name, Args: args})
	statuses := make([]string, len(r.Statuses))
	copy(statuses, r.Statuses)
	result, err := r.Result, r.Err
	r.mu.Unlock()

	if onStatus != nil {
		for _, s := range statuses {
			onStatus(s)
		}
	}
	return result, err
}

// Close records the call.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return nil
}

// Calls returns a snapshot of recorded Run calls.
func (r *Runner) Calls() []RunCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunCall, len(r.RunCalls))
	copy(out, r.RunCalls)
	return out
}

var _ tools.Runner = (*Runner)(nil)
