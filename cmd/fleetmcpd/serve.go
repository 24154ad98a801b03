package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/config"
	"fleetmcp/internal/configwatch"
	"fleetmcp/internal/group"
	"fleetmcp/internal/mcpserver"
	"fleetmcp/internal/middleware"
	"fleetmcp/internal/provider/container"
	"fleetmcp/internal/ratelimit"
	"fleetmcp/internal/repository"
	"fleetmcp/internal/saga"
	"fleetmcp/internal/telemetry"
	"fleetmcp/internal/workers"
	"fleetmcp/pkg/logging"
)

var (
	configPath       string
	dockerSocketPath string
	gcInterval       time.Duration
	healthInterval   time.Duration
	rateLimitRPS     float64
	rateLimitBurst   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fleet daemon",
	Long: `serve loads the provider and group configuration, starts the GC and
health-check workers, watches the configuration file for changes, and
serves the aggregate tool catalog as an MCP server over stdio until
interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "fleet.yaml", "path to the provider/group configuration file")
	serveCmd.Flags().StringVar(&dockerSocketPath, "docker-socket", "/run/containerd/containerd.sock", "containerd socket path for docker-mode providers")
	serveCmd.Flags().DurationVar(&gcInterval, "gc-interval", 2*time.Second, "idle-provider GC sweep cadence")
	serveCmd.Flags().DurationVar(&healthInterval, "health-interval", 30*time.Second, "active health-check sweep cadence")
	serveCmd.Flags().Float64Var(&rateLimitRPS, "rate-limit-rps", 20, "per-bucket (global and per-provider) tool-invocation rate, requests per second")
	serveCmd.Flags().IntVar(&rateLimitBurst, "rate-limit-burst", 40, "per-bucket tool-invocation burst size")
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelInfo, os.Stderr)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration from %s: %w", configPath, err)
	}

	repo := repository.New()
	groups := group.NewRegistry()
	eventBus := bus.New()
	commandBus := bus.NewCommandBus()
	queryBus := bus.NewQueryBus()

	eventBus.SubscribeAll(func(evt bus.Event) {
		logging.Debug("fleetmcpd", "event %T: %+v", evt, evt)
	})

	metrics, err := telemetry.Default()
	if err != nil {
		return fmt.Errorf("registering telemetry instruments: %w", err)
	}
	telemetry.Subscribe(eventBus, metrics)

	var containerLauncher *container.Launcher
	if requiresDocker(cfg) {
		containerLauncher, err = container.NewLauncher(dockerSocketPath)
		if err != nil {
			return fmt.Errorf("connecting to containerd at %s: %w", dockerSocketPath, err)
		}
		defer containerLauncher.Close()
	}

	if _, err := saga.NewInvokeSaga(repo, groups, eventBus, commandBus); err != nil {
		return fmt.Errorf("registering invoke handler: %w", err)
	}
	reloadSaga, err := saga.NewReloadSaga(repo, groups, eventBus, commandBus, containerLauncher)
	if err != nil {
		return fmt.Errorf("registering reload handler: %w", err)
	}
	saga.NewRebalanceSaga(repo, groups, eventBus)
	if _, err := saga.NewLifecycleSaga(repo, groups, eventBus, commandBus, queryBus, reloadSaga); err != nil {
		return fmt.Errorf("registering lifecycle handlers: %w", err)
	}

	reloadSaga.Bootstrap(cfg)
	logging.Info("fleetmcpd", "loaded %d providers and %d groups from %s", len(cfg.Providers), len(cfg.Groups), configPath)

	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: rateLimitRPS, BurstSize: rateLimitBurst})
	pipeline := middleware.New(commandBus, limiter)

	gcWorker := workers.New(repo, eventBus, workers.TaskGC, gcInterval)
	healthWorker := workers.New(repo, eventBus, workers.TaskHealthCheck, healthInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gcWorker.Start(ctx)
	healthWorker.Start(ctx)

	watcher := configwatch.New(configPath, commandBus)
	if err := watcher.Start(); err != nil {
		logging.Warn("fleetmcpd", "configuration watcher did not start: %v", err)
	}
	defer watcher.Stop()

	front := mcpserver.New(pipeline, repo, groups, eventBus)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- front.ServeStdio(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logging.Info("fleetmcpd", "shutdown signal received, stopping")
	case err := <-serveErr:
		if err != nil {
			logging.Error("fleetmcpd", err, "MCP front door stopped unexpectedly")
		}
	}

	cancel()
	gcWorker.Stop()
	healthWorker.Stop()

	for _, p := range repo.GetAll() {
		if shutdownErr := p.Shutdown(); shutdownErr != nil {
			logging.Warn("fleetmcpd", "provider %s did not shut down cleanly: %v", p.ID(), shutdownErr)
		}
	}

	return nil
}

func requiresDocker(cfg config.FileConfig) bool {
	for _, p := range cfg.Providers {
		if p.Mode == "docker" {
			return true
		}
	}
	return false
}
