// Package agent defines the contract for the tool-using language agent that
// turns transcribed user input into streamed reply text.
package agent

import "context"

// Agent produces a streamed textual reply to one user input.
//
// StreamReply returns a single lazy sequence of text fragments, closed when
// the reply is complete. The stream is not restartable — each input requires
// a fresh call. Callers must drain the channel to completion or cancel ctx;
// partial consumption without cancellation leaks the producing goroutine.
//
// Agent failures never surface as errors mid-stream: implementations degrade
// to a short spoken apology fragment so the conversation keeps flowing.
type Agent interface {
	StreamReply(ctx context.Context, sessionID, input string) (<-chan string, error)

	// Forget discards any conversational memory held for the session.
	Forget(sessionID string)
}
