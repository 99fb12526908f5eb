// Package transport defines the duplex speech-session contract consumed by
// the orchestration core.
//
// A Session is a bidirectional stream to a live speech endpoint: the client
// sends raw PCM16 audio chunks or text messages; the server emits audio
// payloads, transcripts, tool-invocation requests, and a setup
// acknowledgement. Wire encoding is entirely the concern of the vendor
// package (see pkg/transport/gemini) — the core treats a Session purely as an
// event source/sink.
//
// All implementations must be safe for concurrent use.
package transport

import "context"

// EventType discriminates the payload carried by an [Event].
type EventType int

const (
	// EventSetupComplete acknowledges that the server accepted the session
	// configuration. Emitted at most once, before any other event.
	EventSetupComplete EventType = iota

	// EventAudio carries a synthesised PCM16 audio payload from the server.
	EventAudio

	// EventTranscript carries transcribed user speech or generated model text.
	EventTranscript

	// EventToolCall carries a tool-invocation request from the model. Respond
	// via [Session.SendToolResult].
	EventToolCall
)

// Speaker roles used in transcript events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event is one normalised message from the speech endpoint. Exactly the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	// Audio is the PCM16 payload for EventAudio.
	Audio []byte

	// Role and Text are set for EventTranscript.
	Role string
	Text string

	// CallID, Tool and Args (JSON-encoded) are set for EventToolCall.
	CallID string
	Tool   string
	Args   string
}

// ToolDefinition describes one tool offered to the model at session setup.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the initial configuration for a new speech session.
type SessionConfig struct {
	// Instructions is the system-level prompt for the session.
	Instructions string

	// Tools is the set of tool definitions offered to the model.
	Tools []ToolDefinition

	// InputSampleRate is the PCM16 rate of audio sent via SendAudio.
	InputSampleRate int
}

// Session is an open speech session.
//
// Events are delivered on a single channel in the order they arrive from the
// server; the channel is closed when the session ends. After the channel
// closes, Err reports whether the session ended cleanly. Consumers must drain
// Events promptly to avoid stalling the receive loop.
//
// Callers must call Close when the session is no longer needed; Close is
// idempotent.
type Session interface {
	// SendAudio delivers one raw PCM16 mono audio chunk to the server.
	SendAudio(chunk []byte) error

	// SendText injects a user text message into the session.
	SendText(text string) error

	// SendToolResult returns the result of a tool invocation previously
	// surfaced as an EventToolCall.
	SendToolResult(callID, name, result string) error

	// Events returns the session's ordered event stream.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Valid after the Events channel closes.
	Err() error

	// Close terminates the session and closes the Events channel. Idempotent.
	Close() error
}

// Dialer opens speech sessions. Implementations must be safe for concurrent
// use; the registry opens one session per conversation.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}
