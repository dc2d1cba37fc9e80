package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"barfeed/internal/bar"
	"barfeed/internal/config"
	"barfeed/internal/deps"
	"barfeed/internal/eventloop"
	"barfeed/internal/logging"
	"barfeed/internal/module"
)

// ErrAlreadyRunning is returned when another daemon holds the runtime lock.
var ErrAlreadyRunning = errors.New("another barfeed instance is already running")

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Output receives bar lines. Defaults to os.Stdout.
	Output io.Writer
}

// Run starts the barfeed daemon and blocks until a termination signal arrives
// or ctx is cancelled. A shutdown that overruns cleanup_timeout_ms is
// reported as eventloop.ErrCleanupTimeout.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg := *cfg
	if opts.LogLevel != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(logger, cfg)

	modules, err := module.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}
	registry, err := module.NewRegistry(modules, logger)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	aggregator := bar.New(cfg.Bar, registry, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := eventloop.NewMetrics(promRegistry)

	metricsSrv := newMetricsServer(cfg.Metrics.Bind, promRegistry, logger)
	if err := metricsSrv.start(); err != nil {
		return err
	}
	defer metricsSrv.stop()

	loop, err := eventloop.New(eventloop.Options{
		PipePath:       cfg.Paths.Pipe,
		ThrottleLimit:  cfg.Settings.ThrottleLimit,
		ThrottleWindow: cfg.ThrottleWindow(),
		Registry:       registry,
		Aggregator:     aggregator,
		Output:         opts.Output,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	if err := loop.Start(); err != nil {
		registry.Unload()
		if cleanupErr := loop.Cleanup(cfg.CleanupTimeout()); cleanupErr != nil {
			logger.Warn("cleanup after failed start", logging.Error(cleanupErr))
		}
		return fmt.Errorf("start event loop: %w", err)
	}
	logger.Info("barfeed started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("pipe", cfg.Paths.Pipe),
		logging.Strings("modules", registry.Names()),
		logging.Strings("subscribers", loop.Subscribers()),
	)

	sig, waitErr := loop.Wait(ctx)
	switch {
	case sig != nil:
		logger.Info("barfeed shutting down", logging.String("signal", sig.String()))
	case waitErr != nil:
		logger.Info("barfeed shutting down", logging.String("reason", waitErr.Error()))
	}

	loop.Stop()
	if err := loop.Cleanup(cfg.CleanupTimeout()); err != nil {
		return err
	}
	logger.Info("barfeed stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	reqs := deps.ShellRequirements()
	for _, name := range cfg.ModuleNames() {
		def := cfg.Modules[name]
		if def.Type != config.ModuleTypeScript {
			continue
		}
		if req, ok := deps.ScriptRequirement(name, def.Exec); ok {
			reqs = append(reqs, req)
		}
	}

	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.CheckBinaries(reqs) {
		attrs = append(attrs, logging.Bool(status.Name+"_available", status.Available))
		if !status.Available && !status.Optional {
			logging.WarnWithContext(logger, "required binary missing", "dependency_missing",
				logging.String("binary", status.Command),
				logging.String(logging.FieldErrorHint, status.Detail),
				logging.String(logging.FieldImpact, "script modules and shell commands will fail"))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
