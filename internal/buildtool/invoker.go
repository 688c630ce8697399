// Package buildtool drives the native build of a plugin or runtime
// directory by delegating to its declared recipe. Recipe detection probes
// for a Makefile first, then a CMakeLists.txt; the first match is used
// exclusively. The package never inspects build output beyond exit status.
package buildtool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/proc"
)

// CommandRunner is the slice of proc.Runner the invoker needs. Injected so
// tests can record invocations instead of executing them.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, opts proc.Options) error
}

// Recipe identifies the build system detected in a directory.
type Recipe int

const (
	RecipeNone Recipe = iota
	RecipeMake
	RecipeCMake
)

// ErrNoRecipe reports a directory with neither recipe file.
type ErrNoRecipe struct {
	Dir string
}

func (e *ErrNoRecipe) Error() string {
	return fmt.Sprintf("no build recipe (Makefile or CMakeLists.txt) in %s", e.Dir)
}

// BuildError wraps a delegated build tool's failure with the directory it
// ran in, so failures name the offending plugin.
type BuildError struct {
	Dir  string
	Tool string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s build in %s failed: %v", e.Tool, e.Dir, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// integrationEnv is forced into every recipe invocation to signal
// integrated-build mode to the recipes.
var integrationEnv = map[string]string{"ILLIXR_INTEGRATION": "yes"}

// Invoker runs build recipes through a command runner.
type Invoker struct {
	Runner CommandRunner
}

// Detect probes dir for a recipe. Make wins over CMake when both exist.
func Detect(dir string) (Recipe, error) {
	if fileExists(filepath.Join(dir, "Makefile")) {
		return RecipeMake, nil
	}
	if fileExists(filepath.Join(dir, "CMakeLists.txt")) {
		return RecipeCMake, nil
	}
	return RecipeNone, &ErrNoRecipe{Dir: dir}
}

// Build runs the recipe in dir for the given targets with variable
// overrides. envOverride entries are layered over the forced integration
// flag.
func (inv *Invoker) Build(ctx context.Context, dir string, targets []string, vars map[string]string, envOverride map[string]string) error {
	recipe, err := Detect(dir)
	if err != nil {
		return err
	}
	switch recipe {
	case RecipeMake:
		return inv.make(ctx, dir, targets, vars, envOverride)
	default:
		return inv.cmake(ctx, dir, vars, envOverride)
	}
}

// Clean invokes the recipe's clean target. Cleaning cmake builds is not
// supported; that case logs a notice and succeeds, since a missing clean
// must not fail the whole run.
func (inv *Invoker) Clean(ctx context.Context, dir string, vars map[string]string) error {
	recipe, err := Detect(dir)
	if err != nil {
		return err
	}
	if recipe == RecipeCMake {
		ctxlog.FromContext(ctx).Warn("Cleaning cmake builds is not supported for plugins yet.", "dir", dir)
		return nil
	}
	return inv.make(ctx, dir, []string{"clean"}, vars, nil)
}

func (inv *Invoker) make(ctx context.Context, dir string, targets []string, vars, envOverride map[string]string) error {
	argv := append([]string{"make", "-C", dir}, targets...)
	argv = append(argv, config.SortedVars(vars)...)
	if err := inv.Runner.Run(ctx, argv, proc.Options{Env: mergeEnv(envOverride), Check: true}); err != nil {
		return &BuildError{Dir: dir, Tool: "make", Err: err}
	}
	return nil
}

// cmake configures into dir/build and then builds. Targets do not apply:
// cmake recipes build their default target set.
func (inv *Invoker) cmake(ctx context.Context, dir string, vars, envOverride map[string]string) error {
	return inv.CMake(ctx, dir, filepath.Join(dir, "build"), vars, envOverride)
}

// CMake drives a cmake project with an explicit build directory. Besides
// backing cmake-recipe plugins it is used directly for external components
// (Monado, the OpenXR demo app) whose build directory convention differs.
func (inv *Invoker) CMake(ctx context.Context, srcDir, buildDir string, vars, envOverride map[string]string) error {
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return &BuildError{Dir: srcDir, Tool: "cmake", Err: err}
	}
	configure := []string{"cmake", "-S", srcDir, "-B", buildDir}
	for _, kv := range config.SortedVars(vars) {
		configure = append(configure, "-D"+kv)
	}
	env := mergeEnv(envOverride)
	if err := inv.Runner.Run(ctx, configure, proc.Options{Env: env, Check: true}); err != nil {
		return &BuildError{Dir: srcDir, Tool: "cmake", Err: err}
	}
	build := []string{"cmake", "--build", buildDir}
	if err := inv.Runner.Run(ctx, build, proc.Options{Env: env, Check: true}); err != nil {
		return &BuildError{Dir: srcDir, Tool: "cmake", Err: err}
	}
	return nil
}

func mergeEnv(envOverride map[string]string) map[string]string {
	merged := make(map[string]string, len(integrationEnv)+len(envOverride))
	for k, v := range integrationEnv {
		merged[k] = v
	}
	for k, v := range envOverride {
		merged[k] = v
	}
	return merged
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
