package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parlance-dev/parlance/internal/registry"
	"github.com/parlance-dev/parlance/pkg/transport"
	transportmock "github.com/parlance-dev/parlance/pkg/transport/mock"
)

// sinkRecorder is a test EventSink capturing everything the registry emits.
type sinkRecorder struct {
	mu          sync.Mutex
	transcripts []string
	audio       [][]byte
	toolCalls   []string
	ended       []endedEvent
}

type endedEvent struct {
	id  string
	err error
}

func (s *sinkRecorder) OnTranscript(sessionID, role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, role+":"+text)
}

func (s *sinkRecorder) OnAudio(sessionID string, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
}

func (s *sinkRecorder) OnToolCall(sessionID, callID, tool, args string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, tool)
}

func (s *sinkRecorder) OnSessionEnded(sessionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, endedEvent{id: sessionID, err: err})
}

func (s *sinkRecorder) endedEvents() []endedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]endedEvent, len(s.ended))
	copy(out, s.ended)
	return out
}

func (s *sinkRecorder) transcriptLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

var _ registry.EventSink = (*sinkRecorder)(nil)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// ── Create ─────────────────────────────────────────────────────────────────────

func TestCreate_UniqueIDs(t *testing.T) {
	t.Parallel()
	d := &transportmock.Dialer{}
	r := registry.New(d, &sinkRecorder{}, registry.Config{})

	id1, err := r.Create(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id2, err := r.Create(context.Background(), "u2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if id1 == "" || id1 == id2 {
		t.Errorf("ids must be unique and non-empty: %q, %q", id1, id2)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count = %d; want 2", got)
	}
}

func TestCreate_LimitExceeded(t *testing.T) {
	t.Parallel()
	d := &transportmock.Dialer{}
	r := registry.New(d, &sinkRecorder{}, registry.Config{MaxSessions: 2})

	for range 2 {
		if _, err := r.Create(context.Background(), ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	_, err := r.Create(context.Background(), "")
	if !errors.Is(err, registry.ErrSessionLimitExceeded) {
		t.Fatalf("third Create error = %v; want ErrSessionLimitExceeded", err)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count = %d; want exactly 2 after rejected create", got)
	}
}

func TestCreate_DialError_ReleasesSlot(t *testing.T) {
	t.Parallel()
	d := &transportmock.Dialer{DialErr: errors.New("connection refused")}
	r := registry.New(d, &sinkRecorder{}, registry.Config{})

	if _, err := r.Create(context.Background(), ""); err == nil {
		t.Fatal("Create should fail when dialing fails")
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d; want 0 after failed create", got)
	}
}

// ── End ────────────────────────────────────────────────────────────────────────

func TestEnd_RemovesAndNotifies(t *testing.T) {
	t.Parallel()
	sess := transportmock.NewSession()
	d := &transportmock.Dialer{Session: sess}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.End(id)

	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d; want 0", got)
	}
	waitFor(t, func() bool { return len(sink.endedEvents()) >= 1 },
		"OnSessionEnded never fired")
	ended := sink.endedEvents()
	if ended[0].id != id || ended[0].err != nil {
		t.Errorf("ended = %+v; want clean end for %s", ended[0], id)
	}
	if sess.CloseCallCount == 0 {
		t.Error("End should close the underlying transport session")
	}
}

func TestEnd_DoubleEnd_Idempotent(t *testing.T) {
	t.Parallel()
	d := &transportmock.Dialer{Session: transportmock.NewSession()}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.End(id)
	r.End(id) // warning, not an error

	waitFor(t, func() bool { return len(sink.endedEvents()) >= 1 },
		"OnSessionEnded never fired")
	// A brief settle, then confirm no duplicate end events.
	time.Sleep(20 * time.Millisecond)
	if got := len(sink.endedEvents()); got != 1 {
		t.Errorf("OnSessionEnded fired %d times; want 1", got)
	}
}

// ── Event dispatch ─────────────────────────────────────────────────────────────

func TestListen_DispatchesEvents(t *testing.T) {
	t.Parallel()
	sess := transportmock.NewSession()
	d := &transportmock.Dialer{Session: sess}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{})

	if _, err := r.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sess.EventsCh <- transport.Event{
		Type: transport.EventTranscript,
		Role: transport.RoleUser,
		Text: "list the files",
	}
	sess.EventsCh <- transport.Event{Type: transport.EventAudio, Audio: []byte{1, 2}}
	sess.EventsCh <- transport.Event{Type: transport.EventToolCall, Tool: "read_file"}

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.transcripts) == 1 && len(sink.audio) == 1 && len(sink.toolCalls) == 1
	}, "events were not dispatched to the sink")

	if lines := sink.transcriptLines(); lines[0] != "user:list the files" {
		t.Errorf("transcript = %q", lines[0])
	}
}

// ── Idle reaper ────────────────────────────────────────────────────────────────

func TestSweep_ReapsIdleSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	d := &transportmock.Dialer{Session: transportmock.NewSession()}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{
		IdleTimeout: 5 * time.Minute,
		Now:         clock,
	})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not yet idle: sweep keeps the session.
	r.Sweep()
	if got := r.Count(); got != 1 {
		t.Fatalf("Count = %d; want 1 before timeout", got)
	}

	mu.Lock()
	now = now.Add(6 * time.Minute)
	mu.Unlock()

	r.Sweep()
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d; want 0 after idle timeout", got)
	}
	waitFor(t, func() bool { return len(sink.endedEvents()) == 1 },
		"reaped session never reported ended")
	if sink.endedEvents()[0].id != id {
		t.Errorf("ended id = %q; want %q", sink.endedEvents()[0].id, id)
	}
}

func TestSweep_ActivityPreventsReap(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	d := &transportmock.Dialer{Session: transportmock.NewSession()}
	r := registry.New(d, &sinkRecorder{}, registry.Config{
		IdleTimeout: 5 * time.Minute,
		Now:         clock,
	})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mu.Lock()
	now = now.Add(4 * time.Minute)
	mu.Unlock()
	r.Touch(id)

	mu.Lock()
	now = now.Add(4 * time.Minute)
	mu.Unlock()

	r.Sweep()
	if got := r.Count(); got != 1 {
		t.Errorf("Count = %d; touched session should survive the sweep", got)
	}
}

// ── Reconnection ───────────────────────────────────────────────────────────────

func TestReconnect_RecoversAfterTransportError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sessions []*transportmock.Session
	d := &transportmock.Dialer{
		DialFunc: func(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
			mu.Lock()
			defer mu.Unlock()
			s := transportmock.NewSession()
			sessions = append(sessions, s)
			return s, nil
		},
	}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  2 * time.Millisecond,
	})

	if _, err := r.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mu.Lock()
	first := sessions[0]
	mu.Unlock()
	first.Finish(errors.New("transport reset"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) >= 2
	}, "registry never redialed after transport error")

	if got := r.Count(); got != 1 {
		t.Errorf("Count = %d; session should survive reconnection", got)
	}

	// Events from the replacement session still flow.
	mu.Lock()
	second := sessions[1]
	mu.Unlock()
	second.EventsCh <- transport.Event{
		Type: transport.EventTranscript,
		Role: transport.RoleUser,
		Text: "still here",
	}
	waitFor(t, func() bool { return len(sink.transcriptLines()) == 1 },
		"event from reconnected session never arrived")
}

func TestReconnect_Exhaustion_EndsWithError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	dials := 0
	sess := transportmock.NewSession()
	d := &transportmock.Dialer{
		DialFunc: func(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
			mu.Lock()
			defer mu.Unlock()
			dials++
			if dials == 1 {
				return sess, nil
			}
			return nil, errors.New("still down")
		},
	}
	sink := &sinkRecorder{}
	r := registry.New(d, sink, registry.Config{
		ReconnectAttempts:  3,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  2 * time.Millisecond,
	})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sess.Finish(errors.New("transport reset"))

	waitFor(t, func() bool { return len(sink.endedEvents()) == 1 },
		"session never ended after reconnect exhaustion")

	ended := sink.endedEvents()[0]
	if ended.id != id {
		t.Errorf("ended id = %q; want %q", ended.id, id)
	}
	if ended.err == nil {
		t.Error("reconnect exhaustion must surface a non-nil error")
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d; want 0", got)
	}

	mu.Lock()
	totalDials := dials
	mu.Unlock()
	if totalDials != 4 { // 1 initial + 3 reconnect attempts
		t.Errorf("dials = %d; want 4", totalDials)
	}
}

// ── Send operations ────────────────────────────────────────────────────────────

func TestSend_UnknownSession_ReturnsError(t *testing.T) {
	t.Parallel()
	r := registry.New(&transportmock.Dialer{}, &sinkRecorder{}, registry.Config{})

	if err := r.SendAudio("ghost", []byte{1}); !errors.Is(err, registry.ErrSessionNotFound) {
		t.Errorf("SendAudio error = %v; want ErrSessionNotFound", err)
	}
	if err := r.SendText("ghost", "hi"); !errors.Is(err, registry.ErrSessionNotFound) {
		t.Errorf("SendText error = %v; want ErrSessionNotFound", err)
	}
}

func TestSend_ForwardsToTransport(t *testing.T) {
	t.Parallel()
	sess := transportmock.NewSession()
	d := &transportmock.Dialer{Session: sess}
	r := registry.New(d, &sinkRecorder{}, registry.Config{})

	id, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.SendAudio(id, []byte{9, 9}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := r.SendText(id, "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := r.SendToolResult(id, "fc-1", "read_file", `{"ok":true}`); err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}

	if len(sess.SentAudio) != 1 || len(sess.SentAudio[0]) != 2 {
		t.Errorf("SentAudio = %v; want one 2-byte chunk", sess.SentAudio)
	}
	if len(sess.SentTexts) != 1 || sess.SentTexts[0] != "hello" {
		t.Errorf("SentTexts = %v; want [hello]", sess.SentTexts)
	}
	if len(sess.SentToolResults) != 1 || sess.SentToolResults[0][1] != "read_file" {
		t.Errorf("SentToolResults = %v; want one read_file result", sess.SentToolResults)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	r := registry.New(&transportmock.Dialer{}, &sinkRecorder{}, registry.Config{
		ReapInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
