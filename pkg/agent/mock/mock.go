// Package mock provides a test double for the agent.Agent interface.
package mock

import (
	"context"
	"sync"

	"github.com/parlance-dev/parlance/pkg/agent"
)

// Call records one StreamReply invocation.
type Call struct {
	SessionID string
	Input     string
}

// Agent is a mock agent.Agent. By default every reply streams Fragments one
// by one; ReplyFunc overrides that per call.
type Agent struct {
	mu sync.Mutex

	// Fragments is the reply streamed for every input.
	Fragments []string

	// Err, if non-nil, is returned from StreamReply.
	Err error

	// ReplyFunc, if non-nil, overrides the default behaviour entirely.
	ReplyFunc func(ctx context.Context, sessionID, input string) (<-chan string, error)

	// StreamCalls records every StreamReply call in order.
	StreamCalls []Call

	// Forgotten records every session id passed to Forget.
	Forgotten []string
}

// StreamReply records the call and streams Fragments.
func (a *Agent) StreamReply(ctx context.Context, sessionID, input string) (<-chan string, error) {
	a.mu.Lock()
	a.StreamCalls = append(a.StreamCalls, Call{SessionID: sessionID, Input: input})
	fn := a.ReplyFunc
	err := a.Err
	fragments := make([]string, len(a.Fragments))
	copy(fragments, a.Fragments)
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, sessionID, input)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan string, len(fragments))
	go func() {
		defer close(out)
		for _, f := range fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Forget records the session id.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Forgotten = append(a.Forgotten, sessionID)
}

// Calls returns a snapshot of recorded StreamReply calls.
func (a *Agent) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.StreamCalls))
	copy(out, a.StreamCalls)
	return out
}

var _ agent.Agent = (*Agent)(nil)
