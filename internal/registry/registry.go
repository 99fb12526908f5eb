// Package registry manages the set of concurrently active speech sessions.
//
// Each registered session owns one transport.Session and a listener goroutine
// that normalises its events into the EventSink. The registry enforces the
// global concurrency limit, expires idle sessions on a fixed reap interval,
// and retries transport failures with exponential backoff before giving up
// and surfacing the error.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlance-dev/parlance/pkg/transport"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxSessions        = 10
	DefaultIdleTimeout        = 30 * time.Minute
	DefaultReapInterval       = 60 * time.Second
	DefaultReconnectAttempts  = 3
	DefaultReconnectBaseDelay = time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
)

// ErrSessionLimitExceeded is returned by Create when the active session count
// has reached the configured maximum.
var ErrSessionLimitExceeded = errors.New("registry: session limit exceeded")

// ErrSessionNotFound is returned by send operations for unknown session ids.
var ErrSessionNotFound = errors.New("registry: session not found")

// EventSink receives normalised session events. The registry invokes sink
// methods from listener goroutines, never while holding internal locks;
// implementations must be safe for concurrent use.
type EventSink interface {
	// OnTranscript delivers transcribed user speech or generated model text.
	OnTranscript(sessionID, role, text string)

	// OnAudio delivers a synthesised audio payload from the transport.
	OnAudio(sessionID string, pcm []byte)

	// OnToolCall delivers a tool-invocation request from the model.
	OnToolCall(sessionID, callID, tool, args string)

	// OnSessionEnded fires exactly once per session, after it is removed from
	// the active set. err is nil for clean shutdowns.
	OnSessionEnded(sessionID string, err error)
}

// Snapshot is a read-only view of one active session.
type Snapshot struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
}

// state is the registry's record of one live session.
type state struct {
	id     string
	userID string

	mu           sync.Mutex
	session      transport.Session
	createdAt    time.Time
	lastActivity time.Time
}

func (s *state) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *state) current() transport.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Config controls session limits, idle expiry, and reconnection.
type Config struct {
	// MaxSessions caps the number of concurrently active sessions.
	MaxSessions int

	// IdleTimeout expires sessions with no activity for this long.
	IdleTimeout time.Duration

	// ReapInterval is how often the idle reaper scans.
	ReapInterval time.Duration

	// ReconnectAttempts bounds transport reconnection tries per failure.
	ReconnectAttempts int

	// ReconnectBaseDelay is doubled per attempt, capped at ReconnectMaxDelay.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// SessionConfig is the template passed to the dialer for every session.
	SessionConfig transport.SessionConfig

	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Registry tracks all active sessions. Safe for concurrent use.
type Registry struct {
	cfg    Config
	log    *slog.Logger
	dialer transport.Dialer
	sink   EventSink

	mu       sync.Mutex
	sessions map[string]*state
}

// New creates a Registry dialing sessions through dialer and delivering
// events to sink.
func New(dialer transport.Dialer, sink EventSink, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:      cfg,
		log:      cfg.Logger,
		dialer:   dialer,
		sink:     sink,
		sessions: make(map[string]*state),
	}
}

// Create opens a new speech session and starts its listener. userID is
// optional and recorded for bookkeeping only. Returns
// ErrSessionLimitExceeded when the active count is at the maximum.
func (r *Registry) Create(ctx context.Context, userID string) (string, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		n := len(r.sessions)
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %d active", ErrSessionLimitExceeded, n)
	}
	// Reserve the slot before dialing so concurrent creates cannot overshoot
	// the limit while a dial is in flight.
	id := uuid.NewString()
	now := r.cfg.Now()
	st := &state{id: id, userID: userID, createdAt: now, lastActivity: now}
	r.sessions[id] = st
	r.mu.Unlock()

	sess, err := r.dialer.Dial(ctx, r.cfg.SessionConfig)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return "", fmt.Errorf("registry: create session: %w", err)
	}

	st.mu.Lock()
	st.session = sess
	st.mu.Unlock()

	go r.listen(st, sess)

	r.log.Info("session created", "session_id", id, "user_id", userID)
	return id, nil
}

// End disconnects and removes the session, then fires OnSessionEnded with a
// nil error. Idempotent: ending an unknown or already-ended id logs a
// warning and returns.
func (r *Registry) End(id string) {
	r.endWith(id, nil)
}

// endWith removes the session and fires OnSessionEnded with err. The sink
// call happens outside the registry lock.
func (r *Registry) endWith(id string, err error) {
	r.mu.Lock()
	st, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("end for unknown or already-ended session", "session_id", id)
		return
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	if sess := st.current(); sess != nil {
		if cerr := sess.Close(); cerr != nil {
			r.log.Warn("session close failed", "session_id", id, "error", cerr)
		}
	}

	r.log.Info("session ended", "session_id", id, "error", err)
	r.sink.OnSessionEnded(id, err)
}

// SendAudio forwards one PCM chunk to the session's transport and refreshes
// its activity timestamp.
func (r *Registry) SendAudio(id string, chunk []byte) error {
	st, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	st.touch(r.cfg.Now())
	return st.current().SendAudio(chunk)
}

// SendText forwards a user text message to the session's transport.
func (r *Registry) SendText(id, text string) error {
	st, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	st.touch(r.cfg.Now())
	return st.current().SendText(text)
}

// SendToolResult forwards a tool result to the session's transport.
func (r *Registry) SendToolResult(id, callID, name, result string) error {
	st, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	st.touch(r.cfg.Now())
	return st.current().SendToolResult(callID, name, result)
}

// Touch refreshes the session's activity timestamp. Unknown ids are ignored.
func (r *Registry) Touch(id string) {
	if st, ok := r.lookup(id); ok {
		st.touch(r.cfg.Now())
	}
}

func (r *Registry) lookup(id string) (*state, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	return st, ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Active returns snapshots of all active sessions, in unspecified order.
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, st := range r.sessions {
		st.mu.Lock()
		out = append(out, Snapshot{
			ID:           st.id,
			UserID:       st.userID,
			CreatedAt:    st.createdAt,
			LastActivity: st.lastActivity,
		})
		st.mu.Unlock()
	}
	return out
}

// Run drives the idle reaper until ctx is cancelled. Always returns nil so
// it composes cleanly in an errgroup.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one idle-reaper pass, ending every session whose
// time-since-last-activity exceeds the idle timeout.
func (r *Registry) Sweep() {
	now := r.cfg.Now()

	r.mu.Lock()
	var expired []string
	for id, st := range r.sessions {
		st.mu.Lock()
		idle := now.Sub(st.lastActivity)
		st.mu.Unlock()
		if idle > r.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.log.Info("reaping idle session", "session_id", id)
		r.End(id)
	}
}

// listen drains the session's event stream, reconnecting on transport errors
// until the retry budget is exhausted.
func (r *Registry) listen(st *state, sess transport.Session) {
	for {
		for ev := range sess.Events() {
			st.touch(r.cfg.Now())
			r.dispatch(st.id, ev)
		}

		err := sess.Err()
		if err == nil {
			// Clean close: the session was ended locally or the server shut
			// the stream down without error.
			r.mu.Lock()
			_, stillTracked := r.sessions[st.id]
			r.mu.Unlock()
			if stillTracked {
				r.endWith(st.id, nil)
			}
			return
		}

		r.log.Warn("session transport failed", "session_id", st.id, "error", err)

		next, ok := r.reconnect(st)
		if !ok {
			r.endWith(st.id, fmt.Errorf("registry: reconnect exhausted: %w", err))
			return
		}
		sess = next
	}
}

// reconnect redials the transport with exponential backoff. Returns the new
// session, or false once the attempt budget is spent or the session was
// ended while backing off.
func (r *Registry) reconnect(st *state) (transport.Session, bool) {
	delay := r.cfg.ReconnectBaseDelay

	for attempt := 1; attempt <= r.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2
		if delay > r.cfg.ReconnectMaxDelay {
			delay = r.cfg.ReconnectMaxDelay
		}

		if _, ok := r.lookup(st.id); !ok {
			return nil, false
		}

		sess, err := r.dialer.Dial(context.Background(), r.cfg.SessionConfig)
		if err != nil {
			r.log.Warn("session reconnect attempt failed",
				"session_id", st.id, "attempt", attempt, "error", err)
			continue
		}

		st.mu.Lock()
		st.session = sess
		st.lastActivity = r.cfg.Now()
		st.mu.Unlock()

		r.log.Info("session reconnected", "session_id", st.id, "attempt", attempt)
		return sess, true
	}

	return nil, false
}

func (r *Registry) dispatch(id string, ev transport.Event) {
	switch ev.Type {
	case transport.EventSetupComplete:
		r.log.Debug("session setup complete", "session_id", id)
	case transport.EventAudio:
		r.sink.OnAudio(id, ev.Audio)
	case transport.EventTranscript:
		r.sink.OnTranscript(id, ev.Role, ev.Text)
	case transport.EventToolCall:
		r.sink.OnToolCall(id, ev.CallID, ev.Tool, ev.Args)
	default:
		r.log.Warn("unhandled transport event", "session_id", id, "type", int(ev.Type))
	}
}
