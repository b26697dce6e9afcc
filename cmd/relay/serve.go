package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/relay/internal/api"
	"github.com/zulandar/relay/internal/config"
	"github.com/zulandar/relay/internal/db"
	"github.com/zulandar/relay/internal/dispatch"
	"github.com/zulandar/relay/internal/janitor"
	"github.com/zulandar/relay/internal/memory"
	"github.com/zulandar/relay/internal/notify"
	"github.com/zulandar/relay/internal/registry"
	"github.com/zulandar/relay/internal/store"
	"github.com/zulandar/relay/internal/task"
	"github.com/zulandar/relay/internal/worker"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Relay orchestration server",
		Long:  "Loads config, migrates the state store, and serves the agent API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to Relay config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	kv := store.New(gormDB)
	reg := registry.New(kv)
	tasks := task.New(kv, reg, cfg.Session.MaxTasks)
	mem := memory.New(kv)

	notifier, err := notify.FromConfig(cfg.Notify, log)
	if err != nil {
		return err
	}

	executor := worker.NewHTTPExecutor(cfg.Executor.URL,
		time.Duration(cfg.Executor.TimeoutSeconds)*time.Second)

	// The pool reports outcomes to the coordinator and the coordinator
	// submits jobs to the pool; the reporter is attached after both exist.
	pool := worker.NewPool(executor, nil, int64(cfg.Workers.MaxConcurrent), log)
	coord, err := dispatch.New(dispatch.Opts{
		Registry:    reg,
		Tasks:       tasks,
		Memory:      mem,
		Backend:     pool,
		Notifier:    notifier,
		MemoryLimit: cfg.Memory.ReadLimit,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	pool.SetReporter(coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	pool.Start(ctx)
	defer pool.Stop()

	jan := janitor.New(janitor.Opts{
		Store:      kv,
		Registry:   reg,
		SessionTTL: time.Duration(cfg.Session.TTLSeconds) * time.Second,
		Schedule:   cfg.Janitor.Schedule,
		Log:        log,
	})
	if err := jan.Start(); err != nil {
		return err
	}
	defer jan.Stop()

	srv, err := api.New(api.Opts{
		Coordinator: coord,
		Registry:    reg,
		Tasks:       tasks,
		Memory:      mem,
		Store:       kv,
		Version:     Version,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(cmd.OutOrStdout(), "Relay serving on %s (db: %s)\n", addr, cfg.Database.Driver)
	return srv.Start(ctx, addr)
}
