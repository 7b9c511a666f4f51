package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"worknode/features/stats"
	"worknode/internal/app"
	"worknode/internal/config"
	"worknode/internal/logger"
	"worknode/internal/metrics"
)

func main() {
	os.Exit(start())
}

// start returns the process exit code so deferred cleanup, including the
// log file flush, runs before the process exits.
func start() int {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	// 2. Structured logger
	nodeLogger, closer, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		return 1
	}
	defer closer.Close()
	nodeLogger = nodeLogger.With("component_id", cfg.ComponentID, "instance_id", cfg.InstanceID)
	slog.SetDefault(nodeLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nodeLogger); err != nil {
		nodeLogger.Error("node exited", "error", err)
		return 1
	}
	return 0
}

// run serves until ctx is cancelled or the node halts its listeners after a
// component became unavailable.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	listeners, err := config.LoadListeners(cfg.ListenersFile)
	if err != nil {
		return err
	}

	topics := []string{config.TopicHeartbeat}
	names := make([]string, 0, len(listeners))
	for _, l := range listeners {
		topics = append(topics, l.Topic)
		names = append(names, l.Name)
	}

	deps, err := app.Bootstrap(ctx, cfg, topics)
	if err != nil {
		return err
	}
	defer deps.Close()

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	node, err := app.NewNode(cfg, deps, listeners, m, logger)
	if err != nil {
		return err
	}

	application := app.New(cfg, deps.DB, deps.Publisher, node, m,
		stats.Node{ComponentID: cfg.ComponentID, InstanceID: cfg.InstanceID, Listeners: names}, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- application.Run(ctx) }()

	nodeErr := node.Run(ctx)
	cancel()
	if err := <-serverErr; err != nil {
		nodeErr = errors.Join(nodeErr, err)
	}
	return nodeErr
}
