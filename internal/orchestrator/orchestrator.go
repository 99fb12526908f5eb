// Package orchestrator wires the conversation components into one voice
// assistant: speech transport sessions, the turn-taking flow engine, the
// streaming pipeline, agent response generation, response chunking, speech
// synthesis, tool execution, and turn persistence.
//
// The data path for a voice turn is:
//
//	microphone → audio engine → transport session → user transcript →
//	lexicon correction → flow engine → agent fragment stream → chunker →
//	synthesis → speaker playback
//
// Agent text is the only response path; audio generated by the transport
// itself is dropped. Applications observe conversations through the
// [Observer] interface.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlance-dev/parlance/internal/chunker"
	"github.com/parlance-dev/parlance/internal/flow"
	"github.com/parlance-dev/parlance/internal/history"
	"github.com/parlance-dev/parlance/internal/lexicon"
	"github.com/parlance-dev/parlance/internal/observe"
	"github.com/parlance-dev/parlance/internal/pipeline"
	"github.com/parlance-dev/parlance/internal/registry"
	"github.com/parlance-dev/parlance/pkg/agent"
	"github.com/parlance-dev/parlance/pkg/audio"
	"github.com/parlance-dev/parlance/pkg/synth"
	"github.com/parlance-dev/parlance/pkg/tools"
	"github.com/parlance-dev/parlance/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// Compile-time check that the orchestrator consumes registry events.
var _ registry.EventSink = (*Orchestrator)(nil)

const (
	// toolTimeout bounds a single tool execution.
	toolTimeout = 60 * time.Second

	// persistTimeout bounds a single history write.
	persistTimeout = 5 * time.Second
)

// Deps are the orchestrator's collaborators. Dialer and Agent are required;
// everything else is optional and its feature is skipped when nil.
type Deps struct {
	// Dialer opens speech transport sessions.
	Dialer transport.Dialer

	// Agent generates streaming text replies.
	Agent agent.Agent

	// Synth converts response segments to PCM. Nil disables spoken output.
	Synth synth.Synthesizer

	// Tools executes model-requested tool calls. Nil rejects all tool calls.
	Tools tools.Runner

	// History persists completed turns. Nil disables persistence.
	History *history.Store

	// Audio owns microphone capture and speaker playback. Nil runs the
	// orchestrator headless; conversations are driven by SendTextMessage
	// and SendAudioChunk.
	Audio *audio.Engine

	// Observer receives lifecycle notifications. Nil means no observer.
	Observer Observer

	// Metrics records instrument values. Nil falls back to the package
	// default instruments.
	Metrics *observe.Metrics
}

// Config bundles the per-component configurations.
type Config struct {
	Registry registry.Config
	Flow     flow.Config
	Pipeline pipeline.Config
	Chunker  chunker.Config

	// Vocabulary seeds the transcript lexicon corrector.
	Vocabulary []string

	// Logger receives orchestration logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator owns one of each conversation component and routes data
// between them. All exported methods are safe for concurrent use.
type Orchestrator struct {
	log      *slog.Logger
	observer Observer
	metrics  *observe.Metrics

	registry *registry.Registry
	flow     *flow.Engine
	pipe     *pipeline.Pipeline
	agent    agent.Agent
	synth    synth.Synthesizer
	tools    tools.Runner
	history  *history.Store
	audio    *audio.Engine

	chunkCfg chunker.Config
	lex      atomic.Pointer[lexicon.Corrector]

	mu            sync.Mutex
	inflight      map[string]*inflightResponse
	respGen       uint64
	lastPersisted map[string]int
	micSession    string
}

// inflightResponse tracks one response goroutine so barge-in can cancel it
// and a superseded goroutine cannot clear its successor's state.
type inflightResponse struct {
	gen    uint64
	cancel context.CancelFunc
}

// New creates an Orchestrator. The transport session template is derived from
// the tool runner's catalogue so the speech model can request tool calls.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	if deps.Tools != nil {
		defs := deps.Tools.Definitions()
		tdefs := make([]transport.ToolDefinition, len(defs))
		for i, d := range defs {
			tdefs[i] = transport.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			}
		}
		cfg.Registry.SessionConfig.Tools = tdefs
	}

	o := &Orchestrator{
		log:           logger,
		observer:      observer,
		metrics:       metrics,
		flow:          flow.NewEngine(cfg.Flow),
		pipe:          pipeline.New(cfg.Pipeline),
		agent:         deps.Agent,
		synth:         deps.Synth,
		tools:         deps.Tools,
		history:       deps.History,
		audio:         deps.Audio,
		chunkCfg:      cfg.Chunker,
		inflight:      make(map[string]*inflightResponse),
		lastPersisted: make(map[string]int),
	}
	o.lex.Store(lexicon.New(cfg.Vocabulary))
	o.registry = registry.New(deps.Dialer, o, cfg.Registry)
	return o
}

// Run drives the registry's idle reaper and the pipeline's performance
// monitor until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.registry.Run(ctx) })
	g.Go(func() error { return o.pipe.Run(ctx) })
	return g.Wait()
}

// StartConversation opens a transport session and initialises the flow and
// pipeline state for it. The first conversation binds the microphone when
// audio is enabled.
func (o *Orchestrator) StartConversation(ctx context.Context, userID string) (string, error) {
	id, err := o.registry.Create(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: start conversation: %w", err)
	}
	if err := o.flow.Init(id); err != nil {
		o.registry.End(id)
		return "", fmt.Errorf("orchestrator: start conversation: %w", err)
	}
	o.pipe.InitSession(id)
	o.metrics.ActiveSessions.Add(ctx, 1)

	if o.audio != nil {
		o.bindMicrophone(id)
	}

	o.log.Info("conversation started", "session_id", id, "user_id", userID)
	o.observer.OnSessionStarted(id, userID)
	return id, nil
}

// EndConversation closes the conversation's transport session; the rest of
// the teardown runs through OnSessionEnded. Idempotent.
func (o *Orchestrator) EndConversation(id string) {
	o.registry.End(id)
}

// SendAudioChunk feeds one captured PCM chunk into the pipeline and the
// transport session.
func (o *Orchestrator) SendAudioChunk(id string, chunk []byte) {
	o.pipe.ProcessAudioChunk(id, chunk)
	if err := o.registry.SendAudio(id, chunk); err != nil {
		o.log.Debug("audio chunk dropped", "session_id", id, "err", err)
	}
}

// SendTextMessage injects typed text into the conversation, bypassing audio
// capture and lexicon correction.
func (o *Orchestrator) SendTextMessage(id, text string) {
	o.dispatchInput(id, text, false)
}

// InterruptConversation handles an explicit barge-in: the flow engine records
// it, the in-flight agent response is cancelled, buffered audio is cleared,
// and playback stops.
func (o *Orchestrator) InterruptConversation(id string) error {
	if err := o.flow.HandleInterruption(id); err != nil {
		return err
	}
	o.cancelResponse(id)
	o.stopOutput(id)
	o.metrics.Interruptions.Add(context.Background(), 1)
	return nil
}

// ActiveSessions returns a snapshot of all live sessions.
func (o *Orchestrator) ActiveSessions() []registry.Snapshot {
	return o.registry.Active()
}

// PerformanceSummary returns the pipeline's cross-session aggregate.
func (o *Orchestrator) PerformanceSummary() pipeline.PerformanceSummary {
	return o.pipe.Summary()
}

// SetVocabulary replaces the lexicon corrector's term list. Safe to call
// while conversations are active.
func (o *Orchestrator) SetVocabulary(terms []string) {
	o.lex.Store(lexicon.New(terms))
	o.log.Info("lexicon vocabulary replaced", "terms", len(terms))
}

// Shutdown ends all conversations and releases the audio device.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.registry.Active() {
		o.registry.End(s.ID)
	}
	if o.audio != nil {
		if err := o.audio.Shutdown(); err != nil {
			o.log.Warn("audio shutdown", "err", err)
		}
	}
	o.log.Info("orchestrator shut down")
}

// ── registry.EventSink ──

// OnTranscript routes transcribed user speech into the conversation. Text the
// transport attributes to the model is dropped: the agent stream is the only
// response path.
func (o *Orchestrator) OnTranscript(sessionID, role, text string) {
	if role != transport.RoleUser {
		o.log.Debug("ignoring transport-side model text", "session_id", sessionID)
		return
	}
	o.dispatchInput(sessionID, text, true)
}

// OnAudio drops transport-generated audio. Spoken output is produced by the
// chunker → synthesis path instead, so playing this too would double-speak.
func (o *Orchestrator) OnAudio(sessionID string, pcm []byte) {
	o.log.Debug("dropping transport audio", "session_id", sessionID, "bytes", len(pcm))
}

// OnToolCall executes the requested tool asynchronously and returns its
// result to the transport session.
func (o *Orchestrator) OnToolCall(sessionID, callID, tool, args string) {
	go o.runTool(sessionID, callID, tool, args)
}

// OnSessionEnded tears down all per-session state. Safe against double
// delivery; every step is idempotent.
func (o *Orchestrator) OnSessionEnded(sessionID string, err error) {
	o.flow.End(sessionID)
	o.pipe.CleanupSession(sessionID)
	o.agent.Forget(sessionID)

	o.mu.Lock()
	if cur, ok := o.inflight[sessionID]; ok {
		cur.cancel()
		delete(o.inflight, sessionID)
	}
	delete(o.lastPersisted, sessionID)
	hadMic := o.micSession == sessionID
	if hadMic {
		o.micSession = ""
	}
	o.mu.Unlock()

	if hadMic && o.audio != nil {
		if cerr := o.audio.StopCapture(); cerr != nil {
			o.log.Warn("stop capture", "session_id", sessionID, "err", cerr)
		}
		_ = o.audio.StopPlayback()
	}

	o.metrics.ActiveSessions.Add(context.Background(), -1)
	if err != nil {
		o.log.Warn("session ended with error", "session_id", sessionID, "err", err)
	}
	o.observer.OnSessionEnded(sessionID, err)
}

// ── input path ──

// dispatchInput runs one user utterance through lexicon correction, the flow
// engine, and the asynchronous response path.
func (o *Orchestrator) dispatchInput(id, text string, correct bool) {
	if correct {
		corrected := o.lex.Load().Correct(text)
		if corrected != text {
			o.log.Debug("transcript corrected",
				"session_id", id, "raw", text, "corrected", corrected)
			o.metrics.LexiconCorrections.Add(context.Background(), 1)
		}
		text = corrected
	}

	if !o.flow.ProcessUserInput(id, text) {
		return
	}
	o.registry.Touch(id)

	// Barge-in: a new accepted input supersedes any response still being
	// generated or played. The old response is cancelled and the new one
	// registered here, synchronously, so a burst of inputs can never leave
	// two responses streaming for the same session.
	if o.cancelResponse(id) {
		o.stopOutput(id)
		o.metrics.Interruptions.Add(context.Background(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gen := o.beginResponse(id, cancel)
	o.pipe.SetCancel(id, cancel)

	o.metrics.RecordTurn(context.Background(), string(flow.SpeakerUser))
	o.observer.OnTurn(id, string(flow.SpeakerUser), text)
	o.persistNewTurns(id)

	go o.respond(ctx, cancel, id, text, gen)
}

// respond streams the agent's reply, speaking each synthesis-ready segment as
// it forms, then records the completed assistant turn. The caller registers
// the response before spawning this goroutine; gen identifies that
// registration.
func (o *Orchestrator) respond(ctx context.Context, cancel context.CancelFunc, id, input string, gen uint64) {
	defer cancel()
	defer o.endResponse(id, gen)

	start := time.Now()
	fragments, err := o.agent.StreamReply(ctx, id, input)
	if err != nil {
		o.log.Error("agent stream failed", "session_id", id, "err", err)
		o.observer.OnError(id, err)
		return
	}

	ck := chunker.New(o.chunkCfg)
	var full strings.Builder
	for frag := range fragments {
		if ctx.Err() != nil {
			continue // cancelled; drain the channel without speaking
		}
		full.WriteString(frag)
		if seg, ok := ck.Add(frag); ok {
			o.speak(ctx, id, seg)
		}
	}
	if ctx.Err() != nil {
		o.log.Debug("response cancelled", "session_id", id)
		return
	}
	if seg, ok := ck.Flush(); ok {
		o.speak(ctx, id, seg)
	}

	reply := full.String()
	if strings.TrimSpace(reply) == "" {
		return
	}
	o.metrics.AgentDuration.Record(ctx, time.Since(start).Seconds())

	ended := o.flow.ProcessAgentResponse(id, reply)
	o.metrics.RecordTurn(ctx, string(flow.SpeakerAssistant))
	o.observer.OnTurn(id, string(flow.SpeakerAssistant), reply)

	if ended {
		// The conversation context is gone; persist the final turn directly.
		o.persistFinalTurn(id, reply)
		o.registry.End(id)
		return
	}
	o.persistNewTurns(id)
}

// speak synthesizes one segment and plays it.
func (o *Orchestrator) speak(ctx context.Context, id, text string) {
	if o.synth == nil {
		return
	}
	start := time.Now()
	pcm, err := o.synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Warn("synthesis failed", "session_id", id, "err", err)
			o.metrics.RecordProviderError(ctx, "synth", "tts")
			o.observer.OnError(id, err)
		}
		return
	}
	o.metrics.SynthDuration.Record(ctx, time.Since(start).Seconds())

	o.pipe.ProcessAudioResponse(id, pcm)
	o.registry.Touch(id)

	if o.audio != nil {
		if err := o.audio.PlayAudio(pcm); err != nil {
			o.log.Warn("playback failed", "session_id", id, "err", err)
		}
	}
}

// runTool executes one model-requested tool call and reports the result back
// through the transport session. Status updates are spoken as they arrive.
func (o *Orchestrator) runTool(id, callID, tool, args string) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	if o.tools == nil {
		o.log.Warn("tool call with no tool runner configured",
			"session_id", id, "tool", tool)
		_ = o.registry.SendToolResult(id, callID, tool, `{"error": "no tools configured"}`)
		return
	}

	onStatus := func(status string) { o.speak(ctx, id, status) }

	start := time.Now()
	result, err := o.tools.Run(ctx, tool, args, onStatus)
	o.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		result = fmt.Sprintf(`{"error": %q}`, err.Error())
		o.log.Warn("tool execution failed",
			"session_id", id, "tool", tool, "err", err)
		o.observer.OnError(id, err)
	}
	o.metrics.RecordToolCall(ctx, tool, status)

	if serr := o.registry.SendToolResult(id, callID, tool, result); serr != nil {
		o.log.Warn("tool result dropped", "session_id", id, "tool", tool, "err", serr)
	}
}

// ── helpers ──

// bindMicrophone routes captured audio into the given session. Only the first
// conversation gets the microphone; it is released when that session ends.
func (o *Orchestrator) bindMicrophone(id string) {
	o.mu.Lock()
	if o.micSession != "" {
		o.mu.Unlock()
		o.log.Debug("microphone already bound", "session_id", id)
		return
	}
	o.micSession = id
	o.mu.Unlock()

	err := o.audio.StartCapture(func(pcm []byte) {
		o.SendAudioChunk(id, pcm)
	})
	if err != nil {
		o.log.Error("microphone capture failed", "session_id", id, "err", err)
		o.mu.Lock()
		o.micSession = ""
		o.mu.Unlock()
	}
}

// cancelResponse aborts the session's in-flight agent stream, if any, and
// reports whether one existed.
func (o *Orchestrator) cancelResponse(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.inflight[id]
	if ok {
		cur.cancel()
		delete(o.inflight, id)
	}
	return ok
}

// stopOutput clears the session's buffered chunks and stops playback.
func (o *Orchestrator) stopOutput(id string) {
	o.pipe.HandleInterruption(id)
	if o.audio != nil {
		_ = o.audio.StopPlayback()
	}
}

// beginResponse registers a new in-flight response and returns its
// generation.
func (o *Orchestrator) beginResponse(id string, cancel context.CancelFunc) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.respGen++
	o.inflight[id] = &inflightResponse{gen: o.respGen, cancel: cancel}
	return o.respGen
}

// endResponse removes the session's in-flight record, but only when it still
// belongs to the goroutine that registered it.
func (o *Orchestrator) endResponse(id string, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.inflight[id]; ok && cur.gen == gen {
		delete(o.inflight, id)
	}
}

// persistNewTurns writes any turns not yet persisted for the session.
// Best-effort: failures are logged, never surfaced.
func (o *Orchestrator) persistNewTurns(id string) {
	if o.history == nil {
		return
	}
	snap, ok := o.flow.Context(id)
	if !ok {
		return
	}

	o.mu.Lock()
	last := o.lastPersisted[id]
	o.mu.Unlock()

	for _, t := range snap.Turns {
		if t.ID <= last {
			continue
		}
		o.writeTurn(id, t)
		last = t.ID
	}

	o.mu.Lock()
	o.lastPersisted[id] = last
	o.mu.Unlock()
}

// persistFinalTurn records the assistant turn that ended a conversation at
// the turn limit, after its flow context has been discarded.
func (o *Orchestrator) persistFinalTurn(id, content string) {
	if o.history == nil {
		return
	}
	o.mu.Lock()
	turnID := o.lastPersisted[id] + 1
	o.mu.Unlock()

	o.writeTurn(id, flow.Turn{
		ID:        turnID,
		Speaker:   flow.SpeakerAssistant,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) writeTurn(id string, t flow.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := o.history.WriteTurn(ctx, history.Turn{
		SessionID:      id,
		TurnID:         t.ID,
		Speaker:        string(t.Speaker),
		Content:        t.Content,
		Timestamp:      t.Timestamp,
		ProcessingTime: t.ProcessingTime,
		Interrupted:    t.Interrupted,
	})
	if err != nil {
		o.log.Warn("history write failed", "session_id", id, "turn_id", t.ID, "err", err)
	}
}
