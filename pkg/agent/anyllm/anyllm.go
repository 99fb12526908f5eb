// Package anyllm implements the agent.Agent interface on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface
// supporting OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// local llama.cpp/llamafile servers.
//
// Usage:
//
//	a, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllm.Config{})
//	a, err := anyllm.New("ollama", "llama3", anyllm.Config{}, anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/parlance-dev/parlance/pkg/agent"
)

var _ agent.Agent = (*Agent)(nil)

const defaultSystemPrompt = "You are a voice-based pair-programming assistant. " +
	"Keep answers short and speakable: plain sentences, no markdown, no code blocks " +
	"unless the user explicitly asks you to dictate code."

// errorFragment is spoken in place of a reply when the backend fails.
const errorFragment = "I ran into an error processing that. Could you try again?"

// Config tunes the agent's generation and memory behaviour.
type Config struct {
	// SystemPrompt overrides the default voice-assistant prompt.
	SystemPrompt string

	// ContextWindow is the number of past turns (user or assistant) kept per
	// session. Defaults to 10.
	ContextWindow int

	// Temperature is passed through when non-zero.
	Temperature float64

	// MaxTokens caps the reply length when positive.
	MaxTokens int

	// Logger receives backend failure logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Agent implements agent.Agent with per-session conversational memory.
type Agent struct {
	backend anyllmlib.Provider
	model   string
	cfg     Config
	log     *slog.Logger

	mu        sync.Mutex
	histories map[string][]anyllmlib.Message
}

// New creates an Agent backed by the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". opts are any-llm-go
// options (e.g. anyllmlib.WithAPIKey); without an API key option the backend
// falls back to its environment variable.
func New(providerName, model string, cfg Config, opts ...anyllmlib.Option) (*Agent, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	cfg = cfg.withDefaults()
	return &Agent{
		backend:   backend,
		model:     model,
		cfg:       cfg,
		log:       cfg.Logger,
		histories: make(map[string][]anyllmlib.Message),
	}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// StreamReply implements agent.Agent. The user input and the completed reply
// are committed to the session's history only after the stream finishes
// cleanly, so a failed call never poisons later context.
func (a *Agent) StreamReply(ctx context.Context, sessionID, input string) (<-chan string, error) {
	params := a.buildParams(sessionID, input)

	backendChunks, backendErrs := a.backend.CompletionStream(ctx, params)

	out := make(chan string, 32)
	go func() {
		defer close(out)

		var reply strings.Builder
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			reply.WriteString(text)
			select {
			case out <- text:
			case <-ctx.Done():
				return
			}
		}

		if err := <-backendErrs; err != nil {
			a.log.Error("agent completion stream failed",
				"session_id", sessionID, "model", a.model, "error", err)
			select {
			case out <- errorFragment:
			case <-ctx.Done():
			}
			return
		}

		a.commit(sessionID, input, reply.String())
	}()

	return out, nil
}

// Forget implements agent.Agent.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.histories, sessionID)
	a.mu.Unlock()
}

// buildParams assembles the completion request: system prompt, trimmed
// session history, then the new user input.
func (a *Agent) buildParams(sessionID, input string) anyllmlib.CompletionParams {
	a.mu.Lock()
	history := a.histories[sessionID]
	messages := make([]anyllmlib.Message, 0, len(history)+2)
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleSystem,
		Content: a.cfg.SystemPrompt,
	})
	messages = append(messages, history...)
	a.mu.Unlock()

	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: input,
	})

	params := anyllmlib.CompletionParams{
		Model:    a.model,
		Messages: messages,
	}
	if a.cfg.Temperature != 0 {
		t := a.cfg.Temperature
		params.Temperature = &t
	}
	if a.cfg.MaxTokens > 0 {
		mt := a.cfg.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// commit appends the completed exchange to the session history and trims it
// to the context window.
func (a *Agent) commit(sessionID, input, reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := append(a.histories[sessionID],
		anyllmlib.Message{Role: anyllmlib.RoleUser, Content: input},
		anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: reply},
	)
	if len(h) > a.cfg.ContextWindow {
		h = h[len(h)-a.cfg.ContextWindow:]
	}
	a.histories[sessionID] = h
}
