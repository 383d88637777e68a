package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/channels"
	"github.com/nextlevelbuilder/chatpilot/internal/commands"
	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/cron"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
	"github.com/nextlevelbuilder/chatpilot/internal/gateway"
	"github.com/nextlevelbuilder/chatpilot/internal/providers"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/tracing"
	"github.com/nextlevelbuilder/chatpilot/internal/upgrade"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// shutdownGrace bounds how long queued turns may keep running after a signal.
const shutdownGrace = 30 * time.Second

func runBot(parent context.Context) error {
	cfgPath := resolveConfigPath()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing flush failed", "error", err)
		}
	}()

	st, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if err := status.Err(); err != nil {
		fmt.Print(upgrade.FormatError(status))
		return err
	}

	access := store.NewAccessCache(st, st)
	if err := access.Load(ctx); err != nil {
		return err
	}

	sinks := []reply.ErrorReporter{store.NewLogReporter(st)}
	var webhook *store.WebhookReporter
	if url := cfg.Errors.WebhookURL; url != "" {
		if webhook, err = store.NewWebhookReporter(url); err != nil {
			slog.Warn("error webhook disabled", "error", err)
		} else {
			sinks = append(sinks, webhook)
		}
	}
	reporter := store.NewReporter(sinks...)

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)
	provider, err := selectProvider(registry, cfg)
	if err != nil {
		return err
	}
	model := cfg.Providers.Model
	if model == "" {
		model = provider.DefaultModel()
	}
	generator := providers.NewGenerator(providers.GeneratorConfig{
		Provider:    provider,
		Images:      providers.NewImageFetcher(nil, cfg.Providers.ImageMaxBytes),
		Model:       model,
		MaxTokens:   cfg.Providers.MaxTokens,
		Temperature: cfg.Providers.Temperature,
	})

	instructions := config.NewInstructions(cfg.Bot.InstructionsFile)
	if err := instructions.Reload(); err != nil {
		slog.Warn("instructions not loaded, answering without a system prompt", "path", instructions.Path(), "error", err)
	}

	broker := bus.NewBroker()
	mgr := channels.NewManager()

	pipeline := reply.New(reply.Config{
		Generator: generator,
		Sender:    mgr,
		Reporter:  reporter,
		Events:    broker,
	})

	engine := dispatch.NewEngine(engineSettings(cfg), engineLimits(cfg), dispatch.Deps{
		Access:       access,
		Responder:    pipeline,
		Recorder:     store.NewTurnRecorder(st, func() string { return provider.Name() + "/" + model }),
		Reporter:     reporter,
		Events:       broker,
		Instructions: instructions.Get,
	})
	engine.SetCommands(commands.New(commands.Deps{
		Engine:      engine,
		Access:      access,
		Stats:       st,
		Sender:      mgr,
		Events:      broker,
		Latency:     mgr.Latency,
		Models:      modelLines(registry, provider.Name(), model),
		Persist:     persistToggles(cfg, cfgPath),
		HelpEnabled: cfg.Bot.HelpCommandEnabled,
		Version:     Version,
	}))

	if err := buildChannels(mgr, cfg, inboundHandler(engine)); err != nil {
		return err
	}

	server := gateway.NewServer(gateway.Options{
		Addr:    cfg.Gateway.Addr(),
		Service: "chatpilot",
		Version: Version,
		Events:  broker,
		Status: func(ctx context.Context) (any, error) {
			if err := st.Ping(ctx); err != nil {
				return nil, fmt.Errorf("database unreachable: %w", err)
			}
			dbStats, err := st.DatabaseStats(ctx)
			if err != nil {
				return nil, err
			}
			active, ignored := access.Counts()
			return map[string]any{
				"version":         Version,
				"provider":        provider.Name(),
				"model":           model,
				"engine":          engine.Stats(),
				"channels":        mgr.GetStatus(),
				"database":        dbStats,
				"active_channels": active,
				"ignored_users":   ignored,
				"instructions_at": instructions.LoadedAt(),
				"config_hash":     cfg.Hash(),
				"watchers":        broker.Subscribers(),
			}, nil
		},
	})

	sched := cron.NewScheduler()
	if err := sched.Add(*cron.SweepJob(engine)); err != nil {
		return err
	}
	if job := cron.CleanupJob(cfg.Database.CleanupSchedule, retention(cfg), st, nil); job != nil {
		if err := sched.Add(*job); err != nil {
			return err
		}
	}

	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	slog.Info("chatpilot started",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", cfg.Database.Mode,
		"provider", provider.Name(),
		"model", model,
		"channels", mgr.GetEnabledChannels(),
		"gateway", cfg.Gateway.Addr(),
		"jobs", sched.Jobs(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		if err := instructions.Watch(gctx); err != nil {
			slog.Warn("instructions watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("graceful shutdown initiated")
		broker.Broadcast(bus.Event{Name: protocol.EventShutdown})

		// The engine refuses new input first; adapters stay up so queued
		// turns can still deliver.
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := engine.Shutdown(drainCtx)

		if stopErr := mgr.StopAll(context.Background()); stopErr != nil {
			slog.Warn("stop channels", "error", stopErr)
		}
		if webhook != nil {
			webhook.Wait()
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("chatpilot stopped")
	return nil
}

// inboundHandler feeds platform messages into the engine.
func inboundHandler(engine *dispatch.Engine) channels.InboundHandler {
	return func(ctx context.Context, msg bus.InboundMessage) {
		outcome, err := engine.HandleInbound(ctx, msg)
		switch {
		case errors.Is(err, dispatch.ErrEngineClosed):
			slog.Debug("inbound dropped during shutdown", "chat", msg.ChatKey())
		case err != nil:
			slog.Error("inbound failed", "chat", msg.ChatKey(), "sender", msg.SenderKey(), "error", err)
		default:
			slog.Debug("inbound", "chat", msg.ChatKey(), "sender", msg.SenderKey(), "outcome", outcome)
		}
	}
}

func modelLines(registry *providers.Registry, active, model string) func() []string {
	return func() []string {
		var lines []string
		for _, name := range registry.List() {
			p, err := registry.Get(name)
			if err != nil {
				continue
			}
			line := fmt.Sprintf("%s: %s", name, p.DefaultModel())
			if name == active {
				line = fmt.Sprintf("%s: %s (active)", name, model)
			}
			lines = append(lines, line)
		}
		return lines
	}
}
