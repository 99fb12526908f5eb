// Package mcp implements the tools.Runner interface on top of the official
// MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
//
// A Runner connects to one or more MCP servers via stdio or streamable-HTTP
// transports, imports their tool catalogues, and routes each Run call to the
// owning server's session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parlance-dev/parlance/pkg/tools"
)

var _ tools.Runner = (*Runner)(nil)

// Transport selects how a server connection is established.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server in logs and routing.
	Name string

	Transport Transport

	// Command is the executable plus space-separated arguments, for stdio.
	Command string

	// URL is the endpoint address, for streamable-http.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// entry maps one imported tool to its owning server session.
type entry struct {
	def        tools.Definition
	serverName string
}

// Runner is an MCP-backed tools.Runner. Create with New, register servers
// with Connect, and Close when done.
type Runner struct {
	client *mcpsdk.Client
	log    *slog.Logger

	mu       sync.RWMutex
	tools    map[string]entry
	sessions map[string]*mcpsdk.ClientSession
}

// New creates a Runner with no server connections.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parlance", Version: "1.0.0"},
		nil,
	)
	return &Runner{
		client:   client,
		log:      logger,
		tools:    make(map[string]entry),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a connection to the server described by cfg and imports
// its tool catalogue. Reconnecting a server with the same name replaces the
// old connection and its tools.
func (r *Runner) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[cfg.Name]; ok {
		_ = old.Close()
		for name, e := range r.tools {
			if e.serverName == cfg.Name {
				delete(r.tools, name)
			}
		}
	}
	r.sessions[cfg.Name] = session

	for _, t := range discovered {
		def := tools.Definition{Name: t.Name, Description: t.Description}
		if t.InputSchema != nil {
			if raw, err := json.Marshal(t.InputSchema); err == nil {
				var params map[string]any
				if err := json.Unmarshal(raw, &params); err == nil {
					def.Parameters = params
				}
			}
		}
		r.tools[t.Name] = entry{def: def, serverName: cfg.Name}
	}

	r.log.Info("mcp server connected",
		"server", cfg.Name, "transport", string(cfg.Transport), "tools", len(discovered))
	return nil
}

// Definitions implements tools.Runner.
func (r *Runner) Definitions() []tools.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Definition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	return out
}

// Run implements tools.Runner. onStatus receives a short progress string
// before the call is dispatched.
func (r *Runner) Run(ctx context.Context, name, args string, onStatus func(string)) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	var session *mcpsdk.ClientSession
	if ok {
		session = r.sessions[e.serverName]
	}
	r.mu.RUnlock()

	if !ok || session == nil {
		return "", fmt.Errorf("mcp: unknown tool %q", name)
	}

	if onStatus != nil {
		onStatus(fmt.Sprintf("Running %s.", humanizeToolName(name)))
	}

	var argsMap map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("mcp: invalid arguments for tool %q: %w", name, err)
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("mcp: call to tool %q failed: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("mcp: tool %q reported an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close implements tools.Runner, closing all server sessions.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, session := range r.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: close server %q: %w", name, err))
		}
	}
	r.sessions = make(map[string]*mcpsdk.ClientSession)
	r.tools = make(map[string]entry)
	return errors.Join(errs...)
}

// splitCommand splits a command line on spaces into executable and args.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// humanizeToolName turns "read_file" into "read file" for spoken status.
func humanizeToolName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "_", " "), "-", " ")
}
