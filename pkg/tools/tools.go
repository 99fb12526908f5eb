// Package tools defines the contract for executing model-requested tool
// invocations.
package tools

import "context"

// Definition describes one tool that can be offered to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Runner executes tool invocations on behalf of the model.
//
// Run may invoke onStatus zero or more times with short progress strings
// before returning the final result; callers typically speak each status
// through the synthesis path. onStatus may be nil. Implementations must be
// safe for concurrent use.
type Runner interface {
	// Definitions lists the tools currently available.
	Definitions() []Definition

	// Run executes the named tool with JSON-encoded args and returns its
	// textual result.
	Run(ctx context.Context, name, args string, onStatus func(status string)) (string, error)

	// Close releases any underlying connections.
	Close() error
}
