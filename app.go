package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngenohkevin/browseruse-agent/config"
	"github.com/ngenohkevin/browseruse-agent/internal/automation"
	"github.com/ngenohkevin/browseruse-agent/internal/browser"
	"github.com/ngenohkevin/browseruse-agent/internal/llm"
	"github.com/ngenohkevin/browseruse-agent/internal/logcapture"
	"github.com/ngenohkevin/browseruse-agent/internal/logging"
	"github.com/ngenohkevin/browseruse-agent/internal/logstream"
	"github.com/ngenohkevin/browseruse-agent/internal/memory"
	"github.com/ngenohkevin/browseruse-agent/internal/server"
	"github.com/ngenohkevin/browseruse-agent/internal/system"
	"github.com/ngenohkevin/browseruse-agent/internal/systemd"
	"github.com/ngenohkevin/browseruse-agent/internal/tasks"
)

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	provider, err := newBrowserProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("failed to release browser provider", zap.Error(err))
		}
	}()

	var (
		agent     automation.Agent = automation.Unavailable()
		completer llm.Completer
	)
	if cfg.LLMEnabled() {
		llmOpts := []llm.ClientOption{
			llm.WithBaseURL(cfg.OpenAIBaseURL),
			llm.WithMaxRetries(cfg.LLMMaxRetries),
		}
		client, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.AgentModel, llmOpts...)
		if err != nil {
			return err
		}
		agent = automation.NewLLMAgent(client, cfg.AgentMaxSteps)

		memClient, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.MemoryModel, llmOpts...)
		if err != nil {
			return err
		}
		completer = memClient
		logger.Info("language model configured",
			zap.String("agent_model", client.Model()),
			zap.String("memory_model", memClient.Model()),
			zap.Int("max_retries", cfg.LLMMaxRetries))
	} else {
		logger.Warn("OPENAI_API_KEY is not set; tasks will fail until a model is configured")
	}

	store, err := newMemoryStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var trigger tasks.MemoryTrigger
	if store != nil && completer != nil {
		trigger = memory.NewSynthesizer(completer, store, logger)
	}

	hub := logstream.NewHub(logstream.DefaultOptions())
	defer hub.Close()

	registry := tasks.NewRegistry()
	supervisor := tasks.NewSupervisor(logger.Named("background"))

	runner := tasks.NewRunner(tasks.RunnerConfig{
		Registry:   registry,
		Hub:        hub,
		Channel:    logcapture.NewChannel(logger),
		Browser:    provider,
		Agent:      agent,
		Memory:     trigger,
		Supervisor: supervisor,
		Logger:     logger,
		LogGrace:   cfg.LogGracePeriod,
	})

	if cfg.TaskRetention > 0 {
		retention, err := tasks.NewRetention(registry, cfg.TaskRetention, cfg.RetentionSchedule, logger)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_SCHEDULE: %w", err)
		}
		retention.Start()
		defer retention.Stop()
	}

	collector, err := system.NewCollector()
	if err != nil {
		logger.Warn("process stats unavailable", zap.Error(err))
	}

	logger.Info("agent configured",
		zap.String("browser_mode", provider.Mode()),
		zap.Bool("llm", cfg.LLMEnabled()),
		zap.String("memory_store", cfg.MemoryStore),
		zap.Duration("log_grace", cfg.LogGracePeriod),
		zap.Duration("task_retention", cfg.TaskRetention))

	srv := server.New(cfg, server.Deps{
		Runner:      runner,
		Hub:         hub,
		Supervisor:  supervisor,
		Memories:    store,
		Stats:       collector,
		Notifier:    systemd.NewNotifier(logger),
		Logger:      logger,
		BrowserMode: provider.Mode(),
		LLMEnabled:  cfg.LLMEnabled(),
	})
	return srv.Run(ctx)
}

func newBrowserProvider(ctx context.Context, cfg *config.Config) (browser.Provider, error) {
	switch cfg.BrowserMode {
	case config.BrowserModeLaunch:
		return browser.NewLaunchProvider(cfg.BrowserHeadless), nil
	case config.BrowserModeDocker:
		p, err := browser.NewDockerProvider(cfg.DockerImage)
		if err != nil {
			return nil, err
		}
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if !p.IsAvailable(checkCtx) {
			_ = p.Close()
			return nil, fmt.Errorf("docker is not reachable for BROWSER_MODE=docker")
		}
		return p, nil
	default:
		return browser.NewCDPProvider(cfg.CDPURL), nil
	}
}

// newMemoryStore returns nil when insights are disabled
func newMemoryStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.MemoryStore {
	case config.MemoryStoreSQLite:
		return memory.NewSQLiteStore(cfg.SQLitePath)
	case config.MemoryStoreMySQL:
		return memory.NewMySQLStore(cfg.MySQLDSN)
	case config.MemoryStoreMemory:
		return memory.NewInMemoryStore(), nil
	default:
		return nil, nil
	}
}
