// Package mock provides test doubles for the transport package interfaces.
//
// Use Dialer to verify Dial calls and feed controlled sessions. Use Session
// to drive the event stream and inspect what the registry sent.
//
// Example:
//
//	sess := mock.NewSession()
//	d := &mock.Dialer{Session: sess}
//	// ... exercise the registry ...
//	sess.EventsCh <- transport.Event{Type: transport.EventTranscript, Role: "user", Text: "hi"}
//	sess.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/parlance-dev/parlance/pkg/transport"
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	Ctx context.Context
	Cfg transport.SessionConfig
}

// Dialer is a mock implementation of transport.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Session is returned by Dial. If nil, a new default Session is created
	// per call.
	Session transport.Session

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialFunc, if non-nil, overrides the default behaviour entirely.
	DialFunc func(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error)

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Session, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	fn := d.DialFunc
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Session != nil {
		return d.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a snapshot of recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.DialCalls))
	copy(out, d.DialCalls)
	return out
}

var _ transport.Dialer = (*Dialer)(nil)

// Session is a mock implementation of transport.Session. Tests push events
// into EventsCh and call Finish to close the stream with an optional error.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. Owned by the Session; use
	// Finish rather than closing it directly.
	EventsCh chan transport.Event

	// SendAudioErr, SendTextErr and SendToolResultErr, if non-nil, are
	// returned by the corresponding methods.
	SendAudioErr      error
	SendTextErr       error
	SendToolResultErr error

	// SentAudio records a copy of every chunk passed to SendAudio.
	SentAudio [][]byte

	// SentTexts records every string passed to SendText.
	SentTexts []string

	// SentToolResults records every (callID, name, result) passed to
	// SendToolResult.
	SentToolResults [][3]string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	err      error
	finished bool
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan transport.Event, 64)}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return s.SendAudioErr
}

// SendText records the text and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentTexts = append(s.SentTexts, text)
	return s.SendTextErr
}

// SendToolResult records the call and returns SendToolResultErr.
func (s *Session) SendToolResult(callID, name, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentToolResults = append(s.SentToolResults, [3]string{callID, name, result})
	return s.SendToolResultErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan transport.Event { return s.EventsCh }

// Err returns the error set by Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish sets the terminal error and closes the event channel. Safe to call
// once; later calls are no-ops.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.EventsCh)
}

// Close records the call and closes the event stream cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	already := s.finished
	if !already {
		s.finished = true
		close(s.EventsCh)
	}
	s.mu.Unlock()
	return nil
}

var _ transport.Session = (*Session)(nil)
