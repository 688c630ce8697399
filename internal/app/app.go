// Package app encapsulates the runner's dependencies, configuration, and
// lifecycle: it owns the logger, loads the configuration model through an
// injected loader, and wires the resolver, invoker, and processor together
// for the selected action.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/illixr/runner/internal/action"
	"github.com/illixr/runner/internal/buildtool"
	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/flow"
	"github.com/illixr/runner/internal/pathcache"
	"github.com/illixr/runner/internal/proc"
)

// App is one configured invocation of the runner.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	model  *config.Model
}

// NewApp constructs a fully initialized App: logger, loaded model,
// defaults, and boundary validation. A failure to load or validate the
// configuration is a fatal startup error and panics; the entrypoint
// recovers to present it cleanly.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	model.ApplyDefaults()
	if err := model.Validate(); err != nil {
		panic(err)
	}
	logger.Debug("Configuration loaded and validated.", "action", model.Action.Name, "profile", model.Profile)

	return &App{outW: outW, logger: logger, cfg: cfg, model: model}
}

// Model returns the loaded configuration. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}

// Run resolves the invocation root, assembles the processing pipeline, and
// dispatches the configured action.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining invocation root: %w", err)
	}

	runner := &proc.Runner{Root: root}
	cache, err := pathcache.New(root, a.cfg.CacheDir, runner)
	if err != nil {
		return err
	}
	processor := &flow.Processor{
		Model:   a.model,
		Cache:   cache,
		Invoker: &buildtool.Invoker{Runner: runner},
		Runner:  runner,
		Workers: a.cfg.Workers,
		Root:    root,
	}

	a.logger.Info("🚀 Dispatching action.", "action", a.model.Action.Name)
	if err := action.Dispatch(ctx, a.model.Action.Name, processor); err != nil {
		return fmt.Errorf("action %s failed: %w", a.model.Action.Name, err)
	}
	a.logger.Info("🏁 Action finished.", "action", a.model.Action.Name)
	return nil
}
