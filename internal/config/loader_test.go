package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/parlance-dev/parlance/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  transport:
    api_key: test-key
    model: gemini-2.0-flash-live-001
  agent:
    provider: openai
    model: gpt-4o-mini
    api_key: test-key
  synth:
    api_key: test-key
    voice: alloy
audio:
  hardware_rate: 48000
  input_rate: 16000
  output_rate: 24000
sessions:
  max_sessions: 10
  idle_timeout: 30m
  reap_interval: 60s
conversation:
  max_turns: 50
  grace_delay: 50ms
pipeline:
  latency_budget: 300ms
  monitor_interval: 5s
lexicon:
  vocabulary: [GitHub, docker, pytest]
history:
  postgres_dsn: "postgres://localhost/parlance"
mcp:
  servers:
    - name: files
      transport: stdio
      command: mcp-files --root .
`

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q; want info", cfg.Server.LogLevel)
	}
	if got := cfg.Sessions.IdleTimeout.Std(); got != 30*time.Minute {
		t.Errorf("idle_timeout = %v; want 30m", got)
	}
	if got := cfg.Conversation.GraceDelay.Std(); got != 50*time.Millisecond {
		t.Errorf("grace_delay = %v; want 50ms", got)
	}
	if len(cfg.Lexicon.Vocabulary) != 3 {
		t.Errorf("vocabulary = %v; want 3 terms", cfg.Lexicon.Vocabulary)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Name != "files" {
		t.Errorf("mcp servers = %+v; want one named files", cfg.MCP.Servers)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adress: ":8080"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := `
sessions:
  idle_timeout: thirty minutes
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_UnknownAgentProvider(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  agent:
    provider: skynet
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown agent provider, got nil")
	}
	if !strings.Contains(err.Error(), "skynet") {
		t.Errorf("error should name the provider, got: %v", err)
	}
}

func TestValidate_RateRatioOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  hardware_rate: 192000
  input_rate: 8000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for rate ratio beyond 8x, got nil")
	}
	if !strings.Contains(err.Error(), "8x") {
		t.Errorf("error should mention the 8x bound, got: %v", err)
	}
}

func TestValidate_AudioDisabledSkipsRateChecks(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  disabled: true
  hardware_rate: 192000
  input_rate: 8000
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("disabled audio should skip rate validation, got: %v", err)
	}
}

func TestValidate_SynthSpeedOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  synth:
    speed: 9.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range synth speed, got nil")
	}
}

func TestValidate_ChunkerBoundsInverted(t *testing.T) {
	t.Parallel()
	yaml := `
chunker:
  min_flush_len: 200
  max_buffer_len: 150
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for min_flush_len >= max_buffer_len, got nil")
	}
}

func TestValidate_ReconnectDelaysInverted(t *testing.T) {
	t.Parallel()
	yaml := `
sessions:
  reconnect_base_delay: 1m
  reconnect_max_delay: 10s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for base delay above max delay, got nil")
	}
}

func TestValidate_MCPServerRequirements(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: files
      transport: stdio
    - name: remote
      transport: streamable-http
    - name: files
      transport: stdio
      command: mcp-files
    - transport: carrier-pigeon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for malformed MCP server entries, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"command is required", "url is required", "duplicate", "transport", "name is required"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should contain %q, got: %v", want, err)
		}
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	// Every field is optional; components apply their own defaults.
	if err := config.Validate(&config.Config{}); err != nil {
		t.Fatalf("empty config should validate, got: %v", err)
	}
}

func TestSlogLevel_Mapping(t *testing.T) {
	t.Parallel()
	if config.LogDebug.SlogLevel() >= config.LogWarn.SlogLevel() {
		t.Error("debug should map below warn")
	}
	if config.LogLevel("bogus").SlogLevel() != config.LogInfo.SlogLevel() {
		t.Error("unknown level should map to info")
	}
}
