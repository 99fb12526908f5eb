// Package pipeline provides per-session audio chunk buffering and rolling
// latency/throughput telemetry for the streaming path.
//
// Each session owns a bounded ChunkBuffer and a sessionMetrics pair. A
// background monitor periodically scans all sessions and raises alerts when
// p95 latency exceeds the configured budget. Alerts are observational only;
// they never abort a session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Defaults for Config fields left zero.
const (
	DefaultBufferCapacity   = 1000
	DefaultLatencyWindow    = 100
	DefaultThroughputWindow = 50
	DefaultLatencyBudget    = 300 * time.Millisecond
	DefaultMonitorInterval  = 5 * time.Second
	DefaultMaxAlerts        = 50
)

// monitorAlertFactor scales the latency budget for the background p95 check.
const monitorAlertFactor = 1.5

// Config controls buffering capacity and telemetry thresholds.
type Config struct {
	// BufferCapacity is the maximum chunk count per session buffer.
	BufferCapacity int

	// LatencyWindow and ThroughputWindow size the rolling sample rings.
	LatencyWindow    int
	ThroughputWindow int

	// LatencyBudget is the per-chunk processing budget. Chunks exceeding it
	// raise an alert.
	LatencyBudget time.Duration

	// MonitorInterval is how often the background monitor scans sessions.
	MonitorInterval time.Duration

	// MaxAlerts bounds the retained alert history.
	MaxAlerts int

	// Logger receives telemetry logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = DefaultLatencyWindow
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = DefaultThroughputWindow
	}
	if c.LatencyBudget <= 0 {
		c.LatencyBudget = DefaultLatencyBudget
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = DefaultMaxAlerts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// PerformanceSummary is a read-only aggregate across all live sessions.
type PerformanceSummary struct {
	ActiveSessions int
	BufferedChunks int
	TotalProcessed int64
	TotalErrors    int64

	// Latency statistics in milliseconds, pooled across sessions.
	AvgLatencyMillis float64
	P95LatencyMillis float64

	// AvgThroughput is the mean recorded throughput in bytes per second.
	AvgThroughput float64

	// RecentAlerts is a copy of the retained alert history, oldest first.
	RecentAlerts []string
}

// session pairs a buffer with its metrics and any in-flight processing task.
type session struct {
	buffer  *ChunkBuffer
	metrics *sessionMetrics
	cancel  context.CancelFunc
}

// Pipeline owns all per-session buffers and metrics. Safe for concurrent use.
type Pipeline struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	alerts   []string
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*session),
	}
}

// InitSession creates the buffer/metrics pair for a session. Initializing an
// already-tracked id is logged and ignored.
func (p *Pipeline) InitSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sessions[id]; ok {
		p.log.Warn("pipeline session already initialized", "session_id", id)
		return
	}
	p.sessions[id] = &session{
		buffer:  NewChunkBuffer(p.cfg.BufferCapacity),
		metrics: newSessionMetrics(p.cfg.LatencyWindow, p.cfg.ThroughputWindow),
	}
	p.log.Debug("pipeline session initialized", "session_id", id)
}

// CleanupSession cancels any in-flight processing task, logs final metrics,
// and removes the session. Idempotent.
func (p *Pipeline) CleanupSession(id string) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, id)
	cancel := s.cancel
	processed := s.metrics.processed
	errCount := s.metrics.errors
	avgLat := s.metrics.latency.mean()
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.log.Info("pipeline session cleaned up",
		"session_id", id,
		"processed", processed,
		"errors", errCount,
		"avg_latency_ms", avgLat,
	)
}

// SetCancel registers the cancel function for the session's in-flight
// processing task. HandleInterruption and CleanupSession invoke it. A nil
// fn clears the registration; unknown ids are ignored.
func (p *Pipeline) SetCancel(id string, fn context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[id]; ok {
		s.cancel = fn
	}
}

// ProcessAudioChunk buffers one inbound chunk and records its processing
// latency. Chunks for unknown sessions are logged and dropped.
func (p *Pipeline) ProcessAudioChunk(id string, chunk []byte) {
	start := p.cfg.Now()

	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		p.log.Warn("audio chunk for unknown pipeline session", "session_id", id)
		return
	}

	if len(chunk) == 0 {
		s.metrics.errors++
		p.mu.Unlock()
		p.log.Warn("empty audio chunk dropped", "session_id", id)
		return
	}

	s.buffer.Add(chunk)
	s.metrics.processed++

	elapsed := p.cfg.Now().Sub(start)
	latMs := float64(elapsed) / float64(time.Millisecond)
	s.metrics.latency.add(latMs)
	if elapsed > 0 {
		s.metrics.throughput.add(float64(len(chunk)) / elapsed.Seconds())
	}

	overBudget := elapsed > p.cfg.LatencyBudget
	if overBudget {
		p.addAlertLocked(fmt.Sprintf(
			"chunk latency %.1fms exceeded budget %v for session %s",
			latMs, p.cfg.LatencyBudget, id))
	}
	p.mu.Unlock()

	if overBudget {
		p.log.Warn("chunk processing exceeded latency budget",
			"session_id", id,
			"latency_ms", latMs,
			"budget", p.cfg.LatencyBudget,
		)
	}
}

// ProcessAudioResponse records one outbound synthesized chunk. Empty payloads
// count as errors; everything else is logged at debug with its size.
func (p *Pipeline) ProcessAudioResponse(id string, chunk []byte) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		p.log.Warn("audio response for unknown pipeline session", "session_id", id)
		return
	}

	if len(chunk) == 0 {
		s.metrics.errors++
		p.mu.Unlock()
		p.log.Warn("empty audio response dropped", "session_id", id)
		return
	}
	s.metrics.processed++
	p.mu.Unlock()

	p.log.Debug("audio response processed", "session_id", id, "bytes", len(chunk))
}

// HandleInterruption cancels the session's pending processing task and clears
// its buffer in one atomic swap. Safe to call concurrently with
// ProcessAudioChunk.
func (p *Pipeline) HandleInterruption(id string) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		p.log.Warn("interruption for unknown pipeline session", "session_id", id)
		return
	}
	cancel := s.cancel
	s.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	dropped := s.buffer.TakeAll()
	p.log.Info("pipeline buffer cleared on interruption",
		"session_id", id, "dropped_chunks", len(dropped))
}

// Run drives the background monitor until ctx is cancelled. Always returns
// nil so it composes cleanly in an errgroup.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.monitorOnce()
		}
	}
}

// monitorOnce scans all sessions and raises alerts for sustained high p95
// latency. Exported to tests via export_test.go.
func (p *Pipeline) monitorOnce() {
	budgetMs := float64(p.cfg.LatencyBudget) / float64(time.Millisecond)
	threshold := budgetMs * monitorAlertFactor

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, s := range p.sessions {
		p95 := s.metrics.latency.percentile(95)
		if p95 > threshold {
			p.addAlertLocked(fmt.Sprintf(
				"p95 latency %.1fms exceeds %.1fms for session %s",
				p95, threshold, id))
		}
	}
}

// addAlertLocked appends a deduplicated alert and trims the history. Caller
// holds p.mu.
func (p *Pipeline) addAlertLocked(alert string) {
	for _, a := range p.alerts {
		if a == alert {
			return
		}
	}
	p.alerts = append(p.alerts, alert)
	if len(p.alerts) > p.cfg.MaxAlerts {
		p.alerts = p.alerts[len(p.alerts)-p.cfg.MaxAlerts:]
	}
	p.log.Warn("pipeline alert raised", "alert", alert)
}

// Alerts returns a copy of the retained alert history, oldest first.
func (p *Pipeline) Alerts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// BufferedChunks returns the chunk count buffered for the session, or 0 for
// unknown ids.
func (p *Pipeline) BufferedChunks(id string) int {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return s.buffer.Len()
}

// Summary aggregates counters and latency statistics across all live
// sessions. It never mutates pipeline state.
func (p *Pipeline) Summary() PerformanceSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := PerformanceSummary{
		ActiveSessions: len(p.sessions),
		RecentAlerts:   append([]string(nil), p.alerts...),
	}

	var latencies []float64
	var throughputs []float64
	for _, s := range p.sessions {
		sum.BufferedChunks += s.buffer.Len()
		sum.TotalProcessed += s.metrics.processed
		sum.TotalErrors += s.metrics.errors
		latencies = append(latencies, s.metrics.latency.values()...)
		throughputs = append(throughputs, s.metrics.throughput.values()...)
	}

	if len(latencies) > 0 {
		var total float64
		for _, v := range latencies {
			total += v
		}
		sum.AvgLatencyMillis = total / float64(len(latencies))

		sort.Float64s(latencies)
		rank := int(0.95 * float64(len(latencies)))
		if rank >= len(latencies) {
			rank = len(latencies) - 1
		}
		sum.P95LatencyMillis = latencies[rank]
	}

	if len(throughputs) > 0 {
		var total float64
		for _, v := range throughputs {
			total += v
		}
		sum.AvgThroughput = total / float64(len(throughputs))
	}

	return sum
}
