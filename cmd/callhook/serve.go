package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/callhook/internal/api"
	"github.com/mattjoyce/callhook/internal/config"
	"github.com/mattjoyce/callhook/internal/events"
	"github.com/mattjoyce/callhook/internal/lock"
	"github.com/mattjoyce/callhook/internal/log"
	"github.com/mattjoyce/callhook/internal/sources"
	"github.com/mattjoyce/callhook/internal/webhook"
)

func defaultPIDFile() string {
	return filepath.Join(os.TempDir(), "callhook.lock")
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	pidFile := fs.String("pid-file", defaultPIDFile(), "Path to the single-instance lock file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("callhook starting", "version", version, "config", cfg.Path)

	pidLock, err := lock.Acquire(*pidFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", *pidFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	registry := webhook.NewRegistry(cfg.Server.NamespacePrefixes...)
	if err := sources.Load(registry, cfg); err != nil {
		logger.Error("failed to register sources", "error", err)
		return 1
	}
	logger.Info("source registration complete", "count", registry.Len())

	webhookConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		logger.Error("failed to configure webhooks", "error", err)
		return 1
	}
	warnUnboundEndpoints(logger, registry, webhookConfig)

	hub := events.NewHub(cfg.Events.BufferSize)
	dispatcher := webhook.NewDispatcher(registry, log.WithComponent("dispatcher"))
	server := webhook.New(webhookConfig, dispatcher, hub, log.WithComponent("webhook"))

	apiServer := api.New(api.Config{APIKey: cfg.Events.APIKey}, registry, hub, log.WithComponent("api"))
	server.Mount("/api", apiServer.Routes())
	if cfg.Events.APIKey == "" {
		logger.Warn("events.api_key not set; /api/sources and /api/events are disabled")
	}

	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("config fingerprint unavailable", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	logger.Info("callhook running (press Ctrl+C to stop)", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				next, err := reloadConfig(cfg.Path, fingerprint, registry, server, logger)
				if err != nil {
					logger.Error("config reload failed; keeping current config", "error", err)
					continue
				}
				fingerprint = next
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			<-done
			logger.Info("callhook stopped")
			return 0
		case err := <-errCh:
			logger.Error("webhook server failed", "error", err)
			return 1
		}
	}
}

// reloadConfig re-reads path and applies sources and endpoints when the
// file changed. The listen address is fixed for the life of the process.
func reloadConfig(path, current string, registry *webhook.Registry, server *webhook.Server, logger *slog.Logger) (string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return current, err
	}

	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		return current, err
	}
	if fingerprint == current {
		logger.Info("config unchanged, skipping reload", "fingerprint", fingerprint)
		return current, nil
	}

	webhookConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		return current, err
	}
	if err := sources.Load(registry, cfg); err != nil {
		return current, err
	}
	server.Reload(webhookConfig)
	warnUnboundEndpoints(logger, registry, webhookConfig)

	logger.Info("config reloaded",
		"fingerprint", fingerprint,
		"sources", registry.Len(),
		"endpoints", len(webhookConfig.Endpoints),
	)
	return fingerprint, nil
}

// warnUnboundEndpoints logs endpoints whose source is not registered. Such
// endpoints answer 500 until the source appears.
func warnUnboundEndpoints(logger *slog.Logger, registry *webhook.Registry, cfg webhook.Config) {
	for _, ep := range cfg.Endpoints {
		if _, ok := registry.Lookup(registry.ResolveName(ep.Source)); !ok {
			logger.Warn("endpoint bound to unknown source", "path", ep.Path, "source", ep.Source)
		}
	}
}
