package action

import (
	"context"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/flow"
	"github.com/illixr/runner/internal/pathcache"
	"github.com/illixr/runner/internal/proc"
)

var resolveAll = pathcache.Options{MustExist: true, Cacheable: true}

// ciStage is one level of the per-plugin CI matrix. Stages are ordered:
// a plugin listed at a level passes through every stage up to it.
type ciStage struct {
	name  string
	level int
	group func(*config.Model) config.PluginGroup
}

var ciStages = []ciStage{
	{"no-build", 0, func(m *config.Model) config.PluginGroup { return m.Action.NoBuild }},
	{"build-only", 1, func(m *config.Model) config.PluginGroup { return m.Action.BuildOnly }},
	{"run-solo", 2, func(m *config.Model) config.PluginGroup { return m.Action.RunSolo }},
}

// CI runs the per-plugin matrix: clean, then build, then a solo run,
// as far as each plugin's stage list enables. A failure aborts that
// plugin's remaining stages but iteration continues with the next plugin;
// the first failure observed is returned once every plugin has had its
// turn.
func CI(ctx context.Context, p *flow.Processor) error {
	logger := ctxlog.FromContext(ctx)

	runtimeExe, err := p.BuildRuntime(ctx, "exe", true)
	if err != nil {
		return err
	}

	var firstErr error
	for _, stage := range ciStages {
		for _, ref := range stage.group(p.Model) {
			stageLogger := logger.With("stage", stage.name, "plugin", pluginLabel(ctx, p, ref))
			stageLogger.Info("CI matrix plugin starting.")
			if err := ciPlugin(ctx, p, runtimeExe, ref, stage.level); err != nil {
				stageLogger.Error("CI matrix plugin failed.", "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			stageLogger.Info("CI matrix plugin passed.")
		}
	}
	return firstErr
}

// ciPlugin drives one plugin through its enabled stages.
func ciPlugin(ctx context.Context, p *flow.Processor, runtimeExe string, ref config.PluginRef, level int) error {
	if _, err := p.CleanPlugin(ctx, ref); err != nil {
		return err
	}
	if level < 1 {
		return nil
	}

	artifact, err := p.BuildPlugin(ctx, ref, false)
	if err != nil {
		return err
	}
	if level < 2 {
		return nil
	}

	// Solo runs hardcode pre-sleep off: there is no debugger to wait for.
	env, err := p.Environment(ctx, flow.Options{
		RunDuration: p.Model.Action.RunDuration,
		PreSleep:    false,
	})
	if err != nil {
		return err
	}
	argv := append(append([]string{}, crashWrapper...), runtimeExe, artifact)
	return p.Runner.Run(ctx, argv, proc.Options{Env: env, Check: true})
}

func pluginLabel(ctx context.Context, p *flow.Processor, ref config.PluginRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	dir, err := p.Cache.Resolve(ctx, ref.Path, resolveAll)
	if err != nil {
		return ref.Path.String()
	}
	return flow.PluginName(ref, dir)
}
