// Package main is the entry point for orcd, the multi-project coding-agent
// task orchestrator daemon. Grounded on the teacher's cmd/orc/main.go and
// internal/cli/serve.go: a single long-running process wired up here and
// shut down cleanly on SIGINT/SIGTERM, generalized from the teacher's API
// server to orcd's scheduler loop plus its internal callback/metrics
// server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/randalmurphal/orcd/internal/callback"
	"github.com/randalmurphal/orcd/internal/config"
	"github.com/randalmurphal/orcd/internal/containerrt"
	"github.com/randalmurphal/orcd/internal/eventlog"
	"github.com/randalmurphal/orcd/internal/recovery"
	"github.com/randalmurphal/orcd/internal/registry"
	"github.com/randalmurphal/orcd/internal/scheduler"
	"github.com/randalmurphal/orcd/internal/workerpool"
)

const defaultContainerdSocket = "/run/containerd/containerd.sock"

func main() {
	if err := run(); err != nil {
		slog.Error("orcd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	cfg, err := config.Load(wd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	reg := registry.New(cfg.DataDir)
	elog := eventlog.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := containerrt.New(defaultContainerdSocket)
	if err != nil {
		return fmt.Errorf("connect to containerd at %s: %w", defaultContainerdSocket, err)
	}
	defer rt.Close()

	pool, err := workerpool.New(ctx, cfg.Pool.Size, rt, cfg.Pool.Image, cfg.Server.ManagerURL, cfg.ForwardEnv)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	recovered := recovery.Run(ctx, reg, elog)
	logger.Info("startup recovery complete",
		"projects_scanned", recovered.ProjectsScanned,
		"tasks_recovered", recovered.TasksRecovered,
		"branches_pruned", recovered.BranchesPruned,
		"errors", len(recovered.Errors))

	sched := scheduler.New(reg, pool, elog, scheduler.Config{
		MergeTestScript: cfg.Git.MergeTestScript,
		Logger:          logger,
	})
	sched.Start(ctx)
	defer sched.Stop()

	cb := callback.New(reg, cfg.Server.ListenAddr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("orcd starting",
		"data_dir", cfg.DataDir,
		"pool_size", cfg.Pool.Size,
		"listen_addr", cfg.Server.ListenAddr)

	return cb.Start(ctx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("component", filepath.Base(os.Args[0]))
}
