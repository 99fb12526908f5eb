// Command parlance is the main entry point for the Parlance voice
// pair-programming assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	oai "github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parlance-dev/parlance/internal/chunker"
	"github.com/parlance-dev/parlance/internal/config"
	"github.com/parlance-dev/parlance/internal/flow"
	"github.com/parlance-dev/parlance/internal/health"
	"github.com/parlance-dev/parlance/internal/history"
	"github.com/parlance-dev/parlance/internal/observe"
	"github.com/parlance-dev/parlance/internal/orchestrator"
	"github.com/parlance-dev/parlance/internal/pipeline"
	"github.com/parlance-dev/parlance/internal/registry"
	"github.com/parlance-dev/parlance/pkg/agent/anyllm"
	"github.com/parlance-dev/parlance/pkg/audio"
	"github.com/parlance-dev/parlance/pkg/audio/native"
	synthoai "github.com/parlance-dev/parlance/pkg/synth/openai"
	"github.com/parlance-dev/parlance/pkg/tools/mcp"
	"github.com/parlance-dev/parlance/pkg/transport"
	"github.com/parlance-dev/parlance/pkg/transport/gemini"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parlance.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlance: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlance: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can change it at
	// runtime without rebuilding the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("parlance starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Speech transport ──────────────────────────────────────────────────────
	transportKey := cfg.Providers.Transport.APIKey
	if transportKey == "" {
		transportKey = os.Getenv("GEMINI_API_KEY")
	}
	if transportKey == "" {
		slog.Error("no speech transport API key: set providers.transport.api_key or GEMINI_API_KEY")
		return 1
	}
	var dialOpts []gemini.Option
	if cfg.Providers.Transport.Model != "" {
		dialOpts = append(dialOpts, gemini.WithModel(cfg.Providers.Transport.Model))
	}
	if cfg.Providers.Transport.BaseURL != "" {
		dialOpts = append(dialOpts, gemini.WithBaseURL(cfg.Providers.Transport.BaseURL))
	}
	dialer := gemini.New(transportKey, dialOpts...)

	// ── Agent ─────────────────────────────────────────────────────────────────
	agentProvider := cfg.Providers.Agent.Provider
	if agentProvider == "" {
		agentProvider = "openai"
	}
	if cfg.Providers.Agent.Model == "" {
		slog.Error("providers.agent.model is required")
		return 1
	}
	var agentOpts []anyllmlib.Option
	if cfg.Providers.Agent.APIKey != "" {
		agentOpts = append(agentOpts, anyllmlib.WithAPIKey(cfg.Providers.Agent.APIKey))
	}
	ag, err := anyllm.New(agentProvider, cfg.Providers.Agent.Model, anyllm.Config{
		SystemPrompt:  cfg.Providers.Agent.SystemPrompt,
		ContextWindow: cfg.Providers.Agent.ContextWindow,
		Temperature:   cfg.Providers.Agent.Temperature,
		MaxTokens:     cfg.Providers.Agent.MaxTokens,
	}, agentOpts...)
	if err != nil {
		slog.Error("failed to create agent", "provider", agentProvider, "err", err)
		return 1
	}

	deps := orchestrator.Deps{
		Dialer: dialer,
		Agent:  ag,
	}

	// ── Synthesis (optional) ──────────────────────────────────────────────────
	synthKey := cfg.Providers.Synth.APIKey
	if synthKey == "" {
		synthKey = os.Getenv("OPENAI_API_KEY")
	}
	if synthKey != "" {
		var synthOpts []synthoai.Option
		if cfg.Providers.Synth.BaseURL != "" {
			synthOpts = append(synthOpts, synthoai.WithBaseURL(cfg.Providers.Synth.BaseURL))
		}
		if cfg.Providers.Synth.Model != "" {
			synthOpts = append(synthOpts, synthoai.WithModel(oai.SpeechModel(cfg.Providers.Synth.Model)))
		}
		if cfg.Providers.Synth.Voice != "" {
			synthOpts = append(synthOpts, synthoai.WithVoice(oai.AudioSpeechNewParamsVoice(cfg.Providers.Synth.Voice)))
		}
		if cfg.Providers.Synth.Speed > 0 {
			synthOpts = append(synthOpts, synthoai.WithSpeed(cfg.Providers.Synth.Speed))
		}
		s, err := synthoai.New(synthKey, synthOpts...)
		if err != nil {
			slog.Error("failed to create synthesizer", "err", err)
			return 1
		}
		deps.Synth = s
	} else {
		slog.Warn("no synthesis API key: spoken output disabled")
	}

	// ── MCP tool servers (optional) ───────────────────────────────────────────
	if len(cfg.MCP.Servers) > 0 {
		runner := mcp.New(logger)
		defer func() {
			if err := runner.Close(); err != nil {
				slog.Warn("mcp close error", "err", err)
			}
		}()
		connected := 0
		for _, srv := range cfg.MCP.Servers {
			err := runner.Connect(ctx, mcp.ServerConfig{
				Name:      srv.Name,
				Transport: mcp.Transport(srv.Transport),
				Command:   srv.Command,
				URL:       srv.URL,
				Env:       srv.Env,
			})
			if err != nil {
				slog.Warn("mcp server connection failed", "server", srv.Name, "err", err)
				continue
			}
			connected++
		}
		slog.Info("mcp servers connected", "connected", connected, "configured", len(cfg.MCP.Servers))
		deps.Tools = runner
	}

	// ── Turn history (optional) ───────────────────────────────────────────────
	var store *history.Store
	if cfg.History.PostgresDSN != "" {
		store, err = history.Open(ctx, cfg.History.PostgresDSN)
		if err != nil {
			slog.Error("failed to open history store", "err", err)
			return 1
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "err", err)
			return 1
		}
		deps.History = store
	}

	// ── Local audio (optional) ────────────────────────────────────────────────
	if !cfg.Audio.Disabled {
		dev, err := native.New()
		if err != nil {
			slog.Warn("audio device unavailable, running headless", "err", err)
		} else {
			deps.Audio = audio.NewEngine(dev, audio.EngineConfig{
				HardwareRate: cfg.Audio.HardwareRate,
				InputRate:    cfg.Audio.InputRate,
				OutputRate:   cfg.Audio.OutputRate,
				BlockFrames:  cfg.Audio.BlockFrames,
			})
		}
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch := orchestrator.New(deps, orchestrator.Config{
		Registry: registry.Config{
			MaxSessions:        cfg.Sessions.MaxSessions,
			IdleTimeout:        cfg.Sessions.IdleTimeout.Std(),
			ReapInterval:       cfg.Sessions.ReapInterval.Std(),
			ReconnectAttempts:  cfg.Sessions.ReconnectAttempts,
			ReconnectBaseDelay: cfg.Sessions.ReconnectBaseDelay.Std(),
			ReconnectMaxDelay:  cfg.Sessions.ReconnectMaxDelay.Std(),
			SessionConfig: transport.SessionConfig{
				Instructions:    cfg.Providers.Agent.SystemPrompt,
				InputSampleRate: cfg.Audio.InputRate,
			},
			Logger: logger,
		},
		Flow: flow.Config{
			MaxTurns:            cfg.Conversation.MaxTurns,
			InterruptionEnabled: !cfg.Conversation.InterruptionDisabled,
			GraceDelay:          cfg.Conversation.GraceDelay.Std(),
			Logger:              logger,
		},
		Pipeline: pipeline.Config{
			BufferCapacity:  cfg.Pipeline.BufferCapacity,
			LatencyBudget:   cfg.Pipeline.LatencyBudget.Std(),
			MonitorInterval: cfg.Pipeline.MonitorInterval.Std(),
			MaxAlerts:       cfg.Pipeline.MaxAlerts,
			Logger:          logger,
		},
		Chunker: chunker.Config{
			MinFlushLen:  cfg.Chunker.MinFlushLen,
			MaxBufferLen: cfg.Chunker.MaxBufferLen,
		},
		Vocabulary: cfg.Lexicon.Vocabulary,
		Logger:     logger,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(changes config.ChangeSet, _ *config.Config) {
		if changes.LogLevelChanged {
			logLevel.Set(changes.NewLogLevel.SlogLevel())
			slog.Info("log level updated", "level", changes.NewLogLevel)
		}
		if changes.VocabularyChanged {
			orch.SetVocabulary(changes.NewVocabulary)
		}
		if changes.SystemPromptChanged {
			slog.Warn("system_prompt changed in config; restart required to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP listener: metrics + health ───────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	checkers := []health.Checker{
		health.Capacity("sessions", func() int { return len(orch.ActiveSessions()) },
			cfg.Sessions.MaxSessions),
	}
	if store != nil {
		checkers = append(checkers, health.Pinger("database", store))
	}
	health.New(version, checkers...).Register(mux)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, deps, listenAddr)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// When local audio is up, open the first conversation immediately so the
	// microphone is live as soon as the process is ready.
	if deps.Audio != nil {
		if _, err := orch.StartConversation(ctx, "local"); err != nil {
			slog.Error("failed to start local conversation", "err", err)
			stop()
		}
	}

	slog.Info("parlance ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		orch.Shutdown()
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	orch.Shutdown()
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, deps orchestrator.Deps, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Parlance — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printComponent("Transport", "gemini-live", cfg.Providers.Transport.Model)
	printComponent("Agent", cfg.Providers.Agent.Provider, cfg.Providers.Agent.Model)
	if deps.Synth != nil {
		printComponent("Synthesis", "openai", cfg.Providers.Synth.Voice)
	} else {
		printComponent("Synthesis", "", "")
	}
	if deps.Audio != nil {
		fmt.Printf("║  Audio           : %-19s ║\n", "native device")
	} else {
		fmt.Printf("║  Audio           : %-19s ║\n", "(headless)")
	}
	if deps.History != nil {
		fmt.Printf("║  History         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  History         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Lexicon.Vocabulary))
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printComponent(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
