package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/debugbridge/internal/api"
	"github.com/mattjoyce/debugbridge/internal/auth"
	"github.com/mattjoyce/debugbridge/internal/client"
	"github.com/mattjoyce/debugbridge/internal/config"
	"github.com/mattjoyce/debugbridge/internal/debugproxy"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/lock"
	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/orchestrator"
	"github.com/mattjoyce/debugbridge/internal/process"
	"github.com/mattjoyce/debugbridge/internal/state"
	"github.com/mattjoyce/debugbridge/internal/storage"
	"github.com/mattjoyce/debugbridge/internal/tui/watch"
	"github.com/mattjoyce/debugbridge/internal/workspace"
)

// EnvAPIKey is read by watch when --api-key is not given.
const EnvAPIKey = "DEBUGBRIDGE_API_KEY"

func loadConfig(flagPath string) (*config.Config, error) {
	path, err := config.Discover(flagPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("debugbridge starting", "version", version, "config", cfg.SourcePath, "workspace", cfg.Workspace.Dir)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	runs := state.NewStore(db)
	if n, err := runs.MarkAbandoned(ctx, time.Now()); err != nil {
		logger.Error("failed to close out previous runs", "error", err)
		return 1
	} else if n > 0 {
		logger.Warn("marked runs from a previous instance as abandoned", "count", n)
	}
	if cfg.State.Retention > 0 {
		n, err := runs.Prune(ctx, time.Now().Add(-cfg.State.Retention))
		if err != nil {
			logger.Warn("run log prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned run log", "deleted", n, "retention", cfg.State.Retention.String())
		}
	}

	resolver, err := workspace.NewFSResolver(cfg.Workspace.Dir)
	if err != nil {
		logger.Error("failed to open workspace", "dir", cfg.Workspace.Dir, "error", err)
		return 1
	}

	hub := events.NewHub(events.DefaultCapacity)
	slot := client.NewSlot()
	proxies := debugproxy.NewFactory(debugproxy.WithConnectTimeout(cfg.Runtime.ConnectTimeout))

	orc := orchestrator.New(orchestrator.Config{
		NodeCmd:         cfg.Runtime.NodeCmd,
		DebugHost:       cfg.Runtime.DebugHost,
		NodeDebugPort:   cfg.Runtime.NodeDebugPort,
		ChromeDebugPort: cfg.Runtime.ChromeDebugPort,
		AttachDelay:     cfg.Runtime.AttachDelay,
		KillGrace:       cfg.Runtime.KillGrace,
	}, resolver, process.ExecSpawner{}, proxies, slot, slot,
		orchestrator.WithPublisher(hub),
		orchestrator.WithRecorder(runs),
	)

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	apiServer := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, orc, runs, hub, slot, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := orc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("orchestrator: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("debugbridge running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	// Wait so the child is killed before the lock is released.
	wg.Wait()

	logger.Info("debugbridge stopped")
	return code
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8090", "Bridge API URL")
	apiKey := fs.String("api-key", os.Getenv(EnvAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", EnvAPIKey)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
