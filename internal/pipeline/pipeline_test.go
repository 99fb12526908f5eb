package pipeline_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parlance-dev/parlance/internal/pipeline"
)

// stepClock returns a Now func that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

func TestProcessAudioChunk_UnknownSession_NoOp(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})

	p.ProcessAudioChunk("ghost", []byte{1, 2, 3})

	if got := p.Summary().TotalProcessed; got != 0 {
		t.Errorf("TotalProcessed = %d; want 0", got)
	}
}

func TestProcessAudioChunk_BuffersAndCounts(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})
	p.InitSession("s1")

	p.ProcessAudioChunk("s1", []byte{1, 2})
	p.ProcessAudioChunk("s1", []byte{3, 4})

	if got := p.BufferedChunks("s1"); got != 2 {
		t.Errorf("BufferedChunks = %d; want 2", got)
	}
	if got := p.Summary().TotalProcessed; got != 2 {
		t.Errorf("TotalProcessed = %d; want 2", got)
	}
}

func TestProcessAudioChunk_EmptyChunk_CountsError(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})
	p.InitSession("s1")

	p.ProcessAudioChunk("s1", nil)

	sum := p.Summary()
	if sum.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d; want 1", sum.TotalErrors)
	}
	if sum.TotalProcessed != 0 {
		t.Errorf("TotalProcessed = %d; want 0", sum.TotalProcessed)
	}
}

func TestProcessAudioChunk_OverBudget_RaisesAlert(t *testing.T) {
	t.Parallel()

	// Every Now() call advances 400ms, so each chunk appears to take 400ms
	// against a 300ms budget.
	p := pipeline.New(pipeline.Config{
		LatencyBudget: 300 * time.Millisecond,
		Now:           stepClock(time.Unix(0, 0), 400*time.Millisecond),
	})
	p.InitSession("s1")

	p.ProcessAudioChunk("s1", []byte{1})

	alerts := p.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d; want 1", len(alerts))
	}
	if !strings.Contains(alerts[0], "s1") {
		t.Errorf("alert %q should name the session", alerts[0])
	}
}

func TestAlerts_DeduplicatedAndBounded(t *testing.T) {
	t.Parallel()

	p := pipeline.New(pipeline.Config{
		LatencyBudget: time.Millisecond,
		MaxAlerts:     5,
		// Fixed 10ms step: every chunk produces the identical alert string.
		Now: func() func() time.Time {
			base := time.Unix(0, 0)
			var mu sync.Mutex
			calls := 0
			return func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return base.Add(time.Duration(calls/2) * 10 * time.Millisecond)
			}
		}(),
	})
	p.InitSession("s1")

	for range 20 {
		p.ProcessAudioChunk("s1", []byte{1})
	}

	alerts := p.Alerts()
	if len(alerts) > 5 {
		t.Errorf("alerts = %d; want at most 5", len(alerts))
	}
	seen := make(map[string]bool)
	for _, a := range alerts {
		if seen[a] {
			t.Errorf("duplicate alert retained: %q", a)
		}
		seen[a] = true
	}
}

func TestHandleInterruption_ClearsBufferAndCancels(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})
	p.InitSession("s1")

	p.ProcessAudioChunk("s1", []byte{1})
	p.ProcessAudioChunk("s1", []byte{2})

	ctx, cancel := context.WithCancel(context.Background())
	p.SetCancel("s1", cancel)

	p.HandleInterruption("s1")

	if got := p.BufferedChunks("s1"); got != 0 {
		t.Errorf("BufferedChunks = %d; want 0 after interruption", got)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("registered cancel func should have been invoked")
	}
}

func TestHandleInterruption_ConcurrentWithProcessing(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{BufferCapacity: 100})
	p.InitSession("s1")

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 200 {
			p.ProcessAudioChunk("s1", []byte{1, 2, 3})
		}
	})
	wg.Go(func() {
		for range 50 {
			p.HandleInterruption("s1")
		}
	})
	wg.Wait()

	if got := p.BufferedChunks("s1"); got > 100 {
		t.Errorf("BufferedChunks = %d; must never exceed capacity", got)
	}
}

func TestCleanupSession_CancelsAndRemoves(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})
	p.InitSession("s1")

	ctx, cancel := context.WithCancel(context.Background())
	p.SetCancel("s1", cancel)

	p.CleanupSession("s1")

	select {
	case <-ctx.Done():
	default:
		t.Error("cleanup should invoke the registered cancel func")
	}
	if got := p.Summary().ActiveSessions; got != 0 {
		t.Errorf("ActiveSessions = %d; want 0", got)
	}

	// Idempotent.
	p.CleanupSession("s1")
}

func TestMonitor_RaisesP95Alert(t *testing.T) {
	t.Parallel()

	p := pipeline.New(pipeline.Config{
		LatencyBudget: 10 * time.Millisecond,
		// 40ms per chunk: p95 will sit well above 1.5× the 10ms budget.
		Now: stepClock(time.Unix(0, 0), 40*time.Millisecond),
	})
	p.InitSession("s1")

	for range 10 {
		p.ProcessAudioChunk("s1", []byte{1})
	}

	p.MonitorOnce()

	var found bool
	for _, a := range p.Alerts() {
		if strings.Contains(a, "p95") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a p95 alert; got %v", p.Alerts())
	}
}

func TestMonitor_QuietUnderBudget(t *testing.T) {
	t.Parallel()

	p := pipeline.New(pipeline.Config{LatencyBudget: time.Second})
	p.InitSession("s1")

	for range 10 {
		p.ProcessAudioChunk("s1", []byte{1})
	}

	p.MonitorOnce()

	if alerts := p.Alerts(); len(alerts) != 0 {
		t.Errorf("alerts = %v; want none", alerts)
	}
}

func TestSummary_ReadOnlySnapshot(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{})
	p.InitSession("s1")
	p.InitSession("s2")

	p.ProcessAudioChunk("s1", []byte{1, 2})
	p.ProcessAudioChunk("s2", []byte{3})

	first := p.Summary()
	second := p.Summary()

	if first.ActiveSessions != 2 || second.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, %d; want 2, 2", first.ActiveSessions, second.ActiveSessions)
	}
	if first.TotalProcessed != second.TotalProcessed {
		t.Errorf("Summary mutated state: processed %d then %d",
			first.TotalProcessed, second.TotalProcessed)
	}
	if first.BufferedChunks != 2 {
		t.Errorf("BufferedChunks = %d; want 2", first.BufferedChunks)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	p := pipeline.New(pipeline.Config{MonitorInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
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
