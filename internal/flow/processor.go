// Package flow is the orchestration core. A flow is an ordered sequence of
// plugin groups; the processor flattens each flow, builds its plugins
// concurrently, assembles the runtime environment and command line, and
// launches the result. Flows run strictly sequentially relative to each
// other, since each launches a foreground process that owns the display.
package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/illixr/runner/internal/cmdtmpl"
	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/pathcache"
	"github.com/illixr/runner/internal/proc"
)

// BuildInvoker is the recipe-driving surface the processor and the action
// routines need.
type BuildInvoker interface {
	Build(ctx context.Context, dir string, targets []string, vars map[string]string, envOverride map[string]string) error
	Clean(ctx context.Context, dir string, vars map[string]string) error
	CMake(ctx context.Context, srcDir, buildDir string, vars map[string]string, envOverride map[string]string) error
}

// CommandRunner launches one external process and waits for it.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, opts proc.Options) error
}

// Processor wires the model to the resolver, the build invoker, and the
// command runner. One processor serves one invocation.
type Processor struct {
	Model   *config.Model
	Cache   *pathcache.Cache
	Invoker BuildInvoker
	Runner  CommandRunner
	// Workers bounds concurrent plugin builds. Values below one fall back
	// to a single worker.
	Workers int
	// Root is the invocation root directory.
	Root string
}

// Options parameterize one pass over the flows. The per-action differences
// (durations, crash wrappers, log stems) live here explicitly instead of
// being re-derived inside each routine.
type Options struct {
	// TestBuild adds the tests/run target to every plugin build.
	TestBuild bool
	// CrashWrapper, when set, replaces the command template with
	// wrapper + runtime + artifacts (e.g. catchsegv xvfb-run).
	CrashWrapper []string
	// RunDuration is exported as ILLIXR_RUN_DURATION, in seconds.
	RunDuration int
	// PreSleep is exported as ILLIXR_ENABLE_PRE_SLEEP. Set explicitly by
	// each action; solo CI runs force it off.
	PreSleep bool
	// Command is the command template; ignored when CrashWrapper is set.
	Command string
	// LogStem, when set, redirects each flow's stdout to <stem>.<index>.
	LogStem string
	// ExtraEnv entries are merged over the derived environment.
	ExtraEnv map[string]string
	// Check makes a non-zero exit of the launched command fatal.
	Check bool
}

func (p *Processor) resolve(ctx context.Context, spec config.LocationSpec) (string, error) {
	return p.Cache.Resolve(ctx, spec, pathcache.Options{MustExist: true, Cacheable: true})
}

// PluginName returns the display name for a plugin: its configured name,
// or the basename of its resolved directory.
func PluginName(ref config.PluginRef, dir string) string {
	if ref.Name != "" {
		return ref.Name
	}
	return filepath.Base(dir)
}

// BuildPlugin resolves one plugin's sources, links the shared common tree
// into it if absent, and drives its recipe. It returns the built artifact
// path, plugin.<profile>.so inside the plugin directory.
func (p *Processor) BuildPlugin(ctx context.Context, ref config.PluginRef, test bool) (string, error) {
	dir, err := p.resolve(ctx, ref.Path)
	if err != nil {
		return "", err
	}
	if err := p.ensureCommonLink(ctx, dir); err != nil {
		return "", err
	}

	soName := fmt.Sprintf("plugin.%s.so", p.Model.Profile)
	targets := []string{soName}
	if test {
		targets = append(targets, "tests/run")
	}
	if err := p.Invoker.Build(ctx, dir, targets, ref.Config, nil); err != nil {
		return "", fmt.Errorf("plugin %s: %w", PluginName(ref, dir), err)
	}
	return filepath.Join(dir, soName), nil
}

// CleanPlugin resolves one plugin and invokes its clean target.
func (p *Processor) CleanPlugin(ctx context.Context, ref config.PluginRef) (string, error) {
	dir, err := p.resolve(ctx, ref.Path)
	if err != nil {
		return "", err
	}
	if err := p.Invoker.Clean(ctx, dir, ref.Config); err != nil {
		return "", fmt.Errorf("plugin %s: %w", PluginName(ref, dir), err)
	}
	return dir, nil
}

// BuildRuntime builds the runtime component as main.<profile>.exe or
// plugin.<profile>.so depending on suffix, returning the artifact path.
func (p *Processor) BuildRuntime(ctx context.Context, suffix string, test bool) (string, error) {
	dir, err := p.resolve(ctx, p.Model.Runtime.Path)
	if err != nil {
		return "", err
	}
	name := "plugin"
	if suffix == "exe" {
		name = "main"
	}
	artifact := fmt.Sprintf("%s.%s.%s", name, p.Model.Profile, suffix)
	targets := []string{artifact}
	if test {
		targets = append(targets, "tests/run")
	}
	if err := p.Invoker.Build(ctx, dir, targets, p.Model.Runtime.Config, nil); err != nil {
		return "", fmt.Errorf("runtime: %w", err)
	}
	return filepath.Join(dir, artifact), nil
}

// ensureCommonLink symlinks the resolved common tree into a plugin
// directory that lacks one, so plugin recipes can include shared headers.
func (p *Processor) ensureCommonLink(ctx context.Context, pluginDir string) error {
	link := filepath.Join(pluginDir, "common")
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	commonDir, err := p.resolve(ctx, p.Model.Common.Path)
	if err != nil {
		return err
	}
	commonDir, err = filepath.Abs(commonDir)
	if err != nil {
		return err
	}
	if err := os.Symlink(commonDir, link); err != nil && !os.IsExist(err) {
		return fmt.Errorf("linking common tree into %s: %w", pluginDir, err)
	}
	return nil
}

// BuildAll builds every plugin concurrently on a bounded pool and returns
// the artifacts in declared order, regardless of completion order. The
// first failure cancels outstanding work and is returned.
func (p *Processor) BuildAll(ctx context.Context, refs []config.PluginRef, test bool) ([]string, error) {
	artifacts := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			artifact, err := p.BuildPlugin(gctx, ref, test)
			if err != nil {
				return err
			}
			artifacts[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// CleanAll cleans every plugin concurrently on the same bounded pool.
func (p *Processor) CleanAll(ctx context.Context, refs []config.PluginRef) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			_, err := p.CleanPlugin(gctx, ref)
			return err
		})
	}
	return g.Wait()
}

// Environment derives the environment set handed to the launched runtime.
func (p *Processor) Environment(ctx context.Context, opts Options) (map[string]string, error) {
	env := map[string]string{
		"ILLIXR_RUN_DURATION":          strconv.Itoa(opts.RunDuration),
		"ILLIXR_OFFLOAD_ENABLE":        strconv.FormatBool(p.Model.EnableOffload),
		"ILLIXR_ALIGNMENT_ENABLE":      strconv.FormatBool(p.Model.EnableAlignment),
		"ILLIXR_ENABLE_VERBOSE_ERRORS": strconv.FormatBool(p.Model.EnableVerboseErrors),
		"ILLIXR_ENABLE_PRE_SLEEP":      strconv.FormatBool(opts.PreSleep),
	}
	if !p.Model.Data.IsZero() {
		dataDir, err := p.resolve(ctx, p.Model.Data)
		if err != nil {
			return nil, err
		}
		env["ILLIXR_DATA"] = dataDir
	}
	if !p.Model.DemoData.IsZero() {
		demoDir, err := p.resolve(ctx, p.Model.DemoData)
		if err != nil {
			return nil, err
		}
		env["ILLIXR_DEMO_DATA"] = demoDir
	}
	if p.Model.Action.KimeraPath != "" {
		env["KIMERA_ROOT"] = p.Model.Action.KimeraPath
	}
	for k, v := range opts.ExtraEnv {
		env[k] = v
	}
	return env, nil
}

// ProcessFlows runs every flow in order: flatten, parallel build, derive
// environment, expand the command, launch. A build failure aborts its flow
// before anything is launched, but later flows still get their turn; the
// first such failure is returned once all flows were processed. A checked
// process failure is fatal to the whole run immediately. Flow N+1 never
// starts before flow N's command returns.
func (p *Processor) ProcessFlows(ctx context.Context, runtimeExe string, opts Options) error {
	logger := ctxlog.FromContext(ctx)

	env, err := p.Environment(ctx, opts)
	if err != nil {
		return err
	}

	var firstErr error
	for i, f := range p.Model.Flows {
		refs := p.Model.FlowPlugins(f)
		flowLogger := logger.With("flow", i)
		flowLogger.Info("▶️ Processing flow.", "plugins", p.describe(ctx, refs))

		artifacts, err := p.BuildAll(ctx, refs, opts.TestBuild)
		if err != nil {
			flowLogger.Error("Flow build failed, skipping execution.", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("flow %d: %w", i, err)
			}
			continue
		}

		if err := p.launch(ctx, i, runtimeExe, artifacts, env, opts); err != nil {
			return err
		}
		flowLogger.Info("✅ Flow finished.")
	}
	return firstErr
}

// launch expands the command for one flow and runs it, redirecting stdout
// to a flow-indexed log file when configured.
func (p *Processor) launch(ctx context.Context, flowIndex int, runtimeExe string, artifacts []string, env map[string]string, opts Options) error {
	argv, err := p.assemble(runtimeExe, artifacts, env, opts)
	if err != nil {
		return fmt.Errorf("flow %d: %w", flowIndex, err)
	}

	runOpts := proc.Options{Env: env, Check: opts.Check}
	if opts.LogStem != "" {
		logPath := fmt.Sprintf("%s.%d", opts.LogStem, flowIndex)
		logFile, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("flow %d: opening log file: %w", flowIndex, err)
		}
		defer logFile.Close()
		runOpts.Stdout = logFile
		ctxlog.FromContext(ctx).Debug("Redirecting flow stdout.", "flow", flowIndex, "path", logPath)
	}

	if err := p.Runner.Run(ctx, argv, runOpts); err != nil {
		return fmt.Errorf("flow %d: %w", flowIndex, err)
	}
	return nil
}

// assemble produces the final argument vector: either the crash wrapper
// prefixed onto the plain runtime command, or the expanded template.
func (p *Processor) assemble(runtimeExe string, artifacts []string, env map[string]string, opts Options) ([]string, error) {
	if len(opts.CrashWrapper) > 0 {
		argv := append([]string{}, opts.CrashWrapper...)
		argv = append(argv, runtimeExe)
		return append(argv, artifacts...), nil
	}
	return cmdtmpl.Expand(opts.Command, cmdtmpl.Bindings{
		RuntimeExe: runtimeExe,
		Artifacts:  artifacts,
		Env:        env,
		Root:       p.Root,
	})
}

// describe renders a flow's plugin list for log lines, resolving paths
// only to recover display names.
func (p *Processor) describe(ctx context.Context, refs []config.PluginRef) string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		dir, err := p.resolve(ctx, ref.Path)
		if err != nil {
			names = append(names, ref.Path.String())
			continue
		}
		names = append(names, PluginName(ref, dir))
	}
	return "[ " + strings.Join(names, ", ") + " ]"
}

func (p *Processor) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}
