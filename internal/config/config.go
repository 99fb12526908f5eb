// Package config provides the configuration schema, loader, and file watcher
// for the Parlance voice assistant.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Parlance process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its log/slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MCPTransport selects how an MCP server connection is established.
type MCPTransport string

const (
	MCPTransportStdio          MCPTransport = "stdio"
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised MCP transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportStreamableHTTP
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "5m" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Parlance.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Zero values mean "use the component default".
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Audio        AudioConfig        `yaml:"audio"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Conversation ConversationConfig `yaml:"conversation"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Chunker      ChunkerConfig      `yaml:"chunker"`
	Lexicon      LexiconConfig      `yaml:"lexicon"`
	History      HistoryConfig      `yaml:"history"`
	MCP          MCPConfig          `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the Parlance process.
type ServerConfig struct {
	// ListenAddr is the TCP address for the metrics/health listener
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig configures the external services each stage talks to.
type ProvidersConfig struct {
	Transport TransportProviderConfig `yaml:"transport"`
	Agent     AgentProviderConfig     `yaml:"agent"`
	Synth     SynthProviderConfig     `yaml:"synth"`
}

// TransportProviderConfig configures the live speech WebSocket endpoint.
type TransportProviderConfig struct {
	// APIKey authenticates against the live speech API. When empty the
	// GEMINI_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// Model selects the live speech model.
	Model string `yaml:"model"`

	// BaseURL overrides the default WebSocket endpoint. Mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// AgentProviderConfig configures the streaming LLM agent backend.
type AgentProviderConfig struct {
	// Provider selects the backend (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. When empty the provider's
	// conventional environment variable is used.
	APIKey string `yaml:"api_key"`

	// SystemPrompt overrides the built-in voice assistant persona.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature, when non-zero, is passed to the model.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens bounds the response length when non-zero.
	MaxTokens int `yaml:"max_tokens"`

	// ContextWindow is the number of past turns kept as model context.
	ContextWindow int `yaml:"context_window"`
}

// SynthProviderConfig configures text-to-speech synthesis.
type SynthProviderConfig struct {
	// APIKey authenticates against the speech API. When empty the
	// OPENAI_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the speech model (e.g., "tts-1").
	Model string `yaml:"model"`

	// Voice selects the voice profile (e.g., "alloy").
	Voice string `yaml:"voice"`

	// Speed adjusts speaking rate; valid range is [0.25, 4.0], 0 means
	// the provider default.
	Speed float64 `yaml:"speed"`
}

// AudioConfig holds sample rates and capture settings for local audio I/O.
type AudioConfig struct {
	// Disabled runs Parlance without microphone or speakers; conversations
	// are driven by text injection only.
	Disabled bool `yaml:"disabled"`

	// HardwareRate is the sound card sample rate in Hz.
	HardwareRate int `yaml:"hardware_rate"`

	// InputRate is the sample rate sent to the speech transport in Hz.
	InputRate int `yaml:"input_rate"`

	// OutputRate is the sample rate of synthesized audio in Hz.
	OutputRate int `yaml:"output_rate"`

	// BlockFrames is the capture block size in frames.
	BlockFrames int `yaml:"block_frames"`
}

// SessionsConfig bounds concurrent sessions and controls their lifecycle.
type SessionsConfig struct {
	// MaxSessions caps the number of concurrent sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout is how long a session may stay inactive before the
	// reaper ends it.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// ReapInterval is how often the idle reaper runs.
	ReapInterval Duration `yaml:"reap_interval"`

	// ReconnectAttempts bounds transport reconnection attempts.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectBaseDelay is the first reconnection backoff delay.
	ReconnectBaseDelay Duration `yaml:"reconnect_base_delay"`

	// ReconnectMaxDelay caps the reconnection backoff delay.
	ReconnectMaxDelay Duration `yaml:"reconnect_max_delay"`
}

// ConversationConfig controls the per-session conversation state machine.
type ConversationConfig struct {
	// MaxTurns ends the conversation once reached.
	MaxTurns int `yaml:"max_turns"`

	// InterruptionDisabled turns off barge-in handling.
	InterruptionDisabled bool `yaml:"interruption_disabled"`

	// GraceDelay is how long an interrupted session waits before it
	// resumes listening.
	GraceDelay Duration `yaml:"grace_delay"`
}

// PipelineConfig tunes the streaming audio pipeline and its monitor.
type PipelineConfig struct {
	// BufferCapacity caps the per-session chunk buffer.
	BufferCapacity int `yaml:"buffer_capacity"`

	// LatencyBudget is the per-chunk processing budget.
	LatencyBudget Duration `yaml:"latency_budget"`

	// MonitorInterval is how often the performance monitor runs.
	MonitorInterval Duration `yaml:"monitor_interval"`

	// MaxAlerts bounds retained performance alerts.
	MaxAlerts int `yaml:"max_alerts"`
}

// ChunkerConfig tunes response text segmentation for synthesis.
type ChunkerConfig struct {
	// MinFlushLen is the minimum buffered length before terminal
	// punctuation triggers a flush.
	MinFlushLen int `yaml:"min_flush_len"`

	// MaxBufferLen forces a flush once the buffer grows past it.
	MaxBufferLen int `yaml:"max_buffer_len"`
}

// LexiconConfig lists domain terms used to correct transcripts.
type LexiconConfig struct {
	// Vocabulary holds canonical spellings of project names, tools, and
	// CLI verbs the speech model tends to mistranscribe.
	Vocabulary []string `yaml:"vocabulary"`
}

// HistoryConfig configures conversation turn persistence.
type HistoryConfig struct {
	// PostgresDSN is the connection string for turn storage. Empty
	// disables persistence.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MCPConfig lists MCP tool servers to connect at startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	// Name identifies the server in logs and tool routing.
	Name string `yaml:"name"`

	// Transport selects the connection mechanism.
	Transport MCPTransport `yaml:"transport"`

	// Command is the executable plus space-separated arguments, for stdio.
	Command string `yaml:"command"`

	// URL is the endpoint address, for streamable-http.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}
