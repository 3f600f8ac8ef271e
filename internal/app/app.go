package app

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	config   *Config
	metrics  *prometheus.Registry

	runs            prometheus.Counter
	cancelRequested atomic.Bool
}

// NewApp is the constructor for the batch application. It returns a fully
// initialized App with its own isolated logger, node registry and metrics
// registry. Without modules the core modules are registered.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(outW)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All node modules registered.", "count", len(modules), "types", reg.Names())

	if err := reg.Validate(ctx); err != nil {
		// A module whose defaults do not survive a save is a programmer error.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	metrics := prometheus.NewRegistry()
	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_batch_runs_total",
		Help: "Number of workflow executions started by this process.",
	})
	metrics.MustRegister(
		nodestate.Collector(),
		runs,
		collectors.NewGoCollector(),
	)

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   cfg,
		metrics:  metrics,
		runs:     runs,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
