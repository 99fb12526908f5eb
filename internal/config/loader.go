package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAgentProviders lists the agent backend names Parlance can construct.
// Used by [Validate] to reject unknown providers early instead of failing
// on the first conversation.
var ValidAgentProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Recoverable issues (missing API keys, disabled persistence) are logged
// as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.Transport.APIKey == "" {
		slog.Warn("providers.transport.api_key is empty; falling back to the GEMINI_API_KEY environment variable")
	}
	if p := cfg.Providers.Agent.Provider; p != "" && !slices.Contains(ValidAgentProviders, p) {
		errs = append(errs, fmt.Errorf("providers.agent.provider %q is unknown; valid values: %v", p, ValidAgentProviders))
	}
	if cfg.Providers.Agent.Temperature < 0 || cfg.Providers.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("providers.agent.temperature %.2f is out of range [0, 2]", cfg.Providers.Agent.Temperature))
	}
	if cfg.Providers.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.agent.max_tokens must not be negative"))
	}
	if cfg.Providers.Agent.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("providers.agent.context_window must not be negative"))
	}
	if s := cfg.Providers.Synth.Speed; s != 0 && (s < 0.25 || s > 4.0) {
		errs = append(errs, fmt.Errorf("providers.synth.speed %.2f is out of range [0.25, 4.0]", s))
	}

	// Audio — the resampler only supports ratios between 1:8 and 8:1, so
	// mismatched rates must be caught here rather than at capture time.
	if !cfg.Audio.Disabled {
		for _, r := range []struct {
			name string
			rate int
		}{
			{"audio.hardware_rate", cfg.Audio.HardwareRate},
			{"audio.input_rate", cfg.Audio.InputRate},
			{"audio.output_rate", cfg.Audio.OutputRate},
		} {
			if r.rate < 0 {
				errs = append(errs, fmt.Errorf("%s must not be negative", r.name))
			}
		}
		if err := validateRatePair("audio.hardware_rate", cfg.Audio.HardwareRate, "audio.input_rate", cfg.Audio.InputRate); err != nil {
			errs = append(errs, err)
		}
		if err := validateRatePair("audio.output_rate", cfg.Audio.OutputRate, "audio.hardware_rate", cfg.Audio.HardwareRate); err != nil {
			errs = append(errs, err)
		}
		if cfg.Audio.BlockFrames < 0 {
			errs = append(errs, fmt.Errorf("audio.block_frames must not be negative"))
		}
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must not be negative"))
	}
	if cfg.Sessions.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("sessions.reconnect_attempts must not be negative"))
	}
	if base, max := cfg.Sessions.ReconnectBaseDelay.Std(), cfg.Sessions.ReconnectMaxDelay.Std(); base > 0 && max > 0 && base > max {
		errs = append(errs, fmt.Errorf("sessions.reconnect_base_delay %v exceeds sessions.reconnect_max_delay %v", base, max))
	}

	// Conversation
	if cfg.Conversation.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_turns must not be negative"))
	}

	// Chunker
	if min, max := cfg.Chunker.MinFlushLen, cfg.Chunker.MaxBufferLen; min > 0 && max > 0 && min >= max {
		errs = append(errs, fmt.Errorf("chunker.min_flush_len %d must be below chunker.max_buffer_len %d", min, max))
	}

	// History
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation turns will not be persisted")
	}

	// MCP servers
	namesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPTransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateRatePair reports an error when both rates are set and their ratio
// falls outside what the resampler accepts.
func validateRatePair(fromName string, from int, toName string, to int) error {
	if from <= 0 || to <= 0 {
		return nil
	}
	if from > 8*to || to > 8*from {
		return fmt.Errorf("%s %d and %s %d differ by more than 8x", fromName, from, toName, to)
	}
	return nil
}
