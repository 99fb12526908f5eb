// Package flow implements the per-session turn-taking state machine.
//
// Each conversation walks a fixed set of states: Idle → Listening →
// Processing → Responding, returning to Listening after each assistant turn.
// A barge-in while the assistant is responding moves the conversation through
// Interrupted back to Listening after a short grace delay. The engine owns
// all conversation contexts; callers interact purely by session id.
package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Conversation states.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateResponding
	StateInterrupted
	StateError
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateInterrupted:
		return "interrupted"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

var (
	// ErrDuplicateSession is returned by Init when the session id is already
	// tracked.
	ErrDuplicateSession = errors.New("flow: conversation already exists")

	// ErrInterruptionDisabled is returned by HandleInterruption when barge-in
	// is disabled by configuration.
	ErrInterruptionDisabled = errors.New("flow: interruption disabled")
)

// Turn is one utterance within a conversation. Turns are immutable once
// appended, except for Interrupted, which may be set retroactively on the
// most recent assistant turn during a barge-in.
type Turn struct {
	// ID is a session-scoped monotonic counter starting at 1.
	ID int

	Speaker Speaker
	Content string

	Timestamp time.Time

	// ProcessingTime is the elapsed time between the triggering user input
	// and this turn. Set on assistant turns only.
	ProcessingTime time.Duration

	// Interrupted marks an assistant turn that was cut short by barge-in.
	Interrupted bool
}

// Snapshot is a read-only copy of a conversation's context.
type Snapshot struct {
	SessionID     string
	State         State
	Turns         []Turn
	Interruptions int
	StartedAt     time.Time
}

// conversation is the mutable per-session context. Guarded by Engine.mu.
type conversation struct {
	state         State
	turns         []Turn
	nextTurnID    int
	interruptions int
	totalProc     time.Duration
	startedAt     time.Time

	// procStart is the wall-clock moment the last user input was accepted,
	// used to compute the following assistant turn's processing time.
	procStart time.Time
}

// Config controls conversation limits and barge-in behaviour.
type Config struct {
	// MaxTurns ends a conversation once its turn count reaches this value.
	// Defaults to 50.
	MaxTurns int

	// InterruptionEnabled allows barge-in while the assistant is responding.
	InterruptionEnabled bool

	// GraceDelay is how long a conversation stays in Interrupted before
	// returning to Listening. Defaults to 50ms.
	GraceDelay time.Duration

	// Logger receives state-transition and summary logs. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 50
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine manages all conversation state machines. Safe for concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:           cfg,
		log:           cfg.Logger,
		conversations: make(map[string]*conversation),
	}
}

// Init creates a conversation context in Idle for the given session id.
func (e *Engine) Init(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conversations[sessionID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
	}

	e.conversations[sessionID] = &conversation{
		state:      StateIdle,
		nextTurnID: 1,
		startedAt:  e.cfg.Now(),
	}
	e.log.Info("conversation initialized", "session_id", sessionID)
	return nil
}

// ProcessUserInput records a user utterance and moves the conversation to
// Responding. Accepted from Idle or Listening; from Responding it first
// performs an implicit interruption when barge-in is enabled. Inputs arriving
// in any other state, or for unknown session ids, are logged and dropped.
// The returned bool reports whether the input was accepted.
func (e *Engine) ProcessUserInput(sessionID, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[sessionID]
	if !ok {
		e.log.Warn("user input for unknown conversation", "session_id", sessionID)
		return false
	}

	switch conv.state {
	case StateIdle, StateListening:
		// Accepted directly.
	case StateResponding:
		if !e.cfg.InterruptionEnabled {
			e.log.Warn("user input while responding and interruption disabled",
				"session_id", sessionID)
			return false
		}
		e.interruptLocked(sessionID, conv)
	default:
		e.log.Warn("user input rejected in current state",
			"session_id", sessionID, "state", conv.state)
		return false
	}

	now := e.cfg.Now()
	conv.appendTurn(Turn{Speaker: SpeakerUser, Content: text, Timestamp: now})
	conv.procStart = now

	conv.state = StateProcessing
	e.log.Debug("conversation state changed",
		"session_id", sessionID, "state", StateProcessing)
	conv.state = StateResponding
	e.log.Debug("conversation state changed",
		"session_id", sessionID, "state", StateResponding)

	return true
}

// ProcessAgentResponse records an assistant utterance. Valid only from
// Responding; anything else is logged and dropped. The returned bool reports
// whether the conversation was ended because it reached the turn limit.
func (e *Engine) ProcessAgentResponse(sessionID, text string) bool {
	e.mu.Lock()

	conv, ok := e.conversations[sessionID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn("agent response for unknown conversation", "session_id", sessionID)
		return false
	}
	if conv.state != StateResponding {
		e.mu.Unlock()
		e.log.Warn("agent response rejected in current state",
			"session_id", sessionID, "state", conv.state)
		return false
	}

	now := e.cfg.Now()
	turn := Turn{Speaker: SpeakerAssistant, Content: text, Timestamp: now}
	if !conv.procStart.IsZero() {
		turn.ProcessingTime = now.Sub(conv.procStart)
		conv.totalProc += turn.ProcessingTime
	}
	conv.appendTurn(turn)

	if len(conv.turns) >= e.cfg.MaxTurns {
		e.mu.Unlock()
		e.log.Info("conversation reached turn limit",
			"session_id", sessionID, "max_turns", e.cfg.MaxTurns)
		e.End(sessionID)
		return true
	}

	conv.state = StateListening
	e.mu.Unlock()

	e.log.Debug("conversation state changed",
		"session_id", sessionID, "state", StateListening)
	return false
}

// HandleInterruption processes a barge-in: the most recent assistant turn, if
// it is the latest turn, is marked interrupted, and the conversation moves
// through Interrupted back to Listening after the grace delay. Returns
// ErrInterruptionDisabled when barge-in is disabled by configuration; unknown
// session ids are logged and ignored.
func (e *Engine) HandleInterruption(sessionID string) error {
	if !e.cfg.InterruptionEnabled {
		e.log.Warn("interruption rejected: disabled by configuration",
			"session_id", sessionID)
		return ErrInterruptionDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[sessionID]
	if !ok {
		e.log.Warn("interruption for unknown conversation", "session_id", sessionID)
		return nil
	}

	e.interruptLocked(sessionID, conv)
	conv.state = StateInterrupted

	// Return to Listening after the grace delay without holding up the
	// caller or other sessions. The state check guards against the
	// conversation having moved on (new input, session end) in the interim.
	time.AfterFunc(e.cfg.GraceDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.conversations[sessionID]; ok && c.state == StateInterrupted {
			c.state = StateListening
			e.log.Debug("conversation state changed",
				"session_id", sessionID, "state", StateListening)
		}
	})

	return nil
}

// interruptLocked increments the interruption counter and marks the latest
// turn as interrupted if it is an assistant turn. Caller holds e.mu.
func (e *Engine) interruptLocked(sessionID string, conv *conversation) {
	conv.interruptions++
	if n := len(conv.turns); n > 0 && conv.turns[n-1].Speaker == SpeakerAssistant {
		conv.turns[n-1].Interrupted = true
	}
	e.log.Info("conversation interrupted",
		"session_id", sessionID, "interruptions", conv.interruptions)
}

// End removes the conversation and logs summary statistics. Idempotent;
// ending an unknown or already-ended conversation is a no-op.
func (e *Engine) End(sessionID string) {
	e.mu.Lock()
	conv, ok := e.conversations[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.conversations, sessionID)
	e.mu.Unlock()

	var userTurns, assistantTurns int
	for _, t := range conv.turns {
		if t.Speaker == SpeakerUser {
			userTurns++
		} else {
			assistantTurns++
		}
	}
	var avgProc time.Duration
	if assistantTurns > 0 {
		avgProc = conv.totalProc / time.Duration(assistantTurns)
	}

	e.log.Info("conversation ended",
		"session_id", sessionID,
		"user_turns", userTurns,
		"assistant_turns", assistantTurns,
		"interruptions", conv.interruptions,
		"avg_processing_time", avgProc,
		"duration", e.cfg.Now().Sub(conv.startedAt),
	)
}

// Context returns a read-only snapshot of the conversation, or false if the
// session id is unknown.
func (e *Engine) Context(sessionID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[sessionID]
	if !ok {
		return Snapshot{}, false
	}

	turns := make([]Turn, len(conv.turns))
	copy(turns, conv.turns)
	return Snapshot{
		SessionID:     sessionID,
		State:         conv.state,
		Turns:         turns,
		Interruptions: conv.interruptions,
		StartedAt:     conv.startedAt,
	}, true
}

// Active returns the number of tracked conversations.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conversations)
}

func (c *conversation) appendTurn(t Turn) {
	t.ID = c.nextTurnID
	c.nextTurnID++
	c.turns = append(c.turns, t)
}
