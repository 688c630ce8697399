package flow

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/pathcache"
	"github.com/illixr/runner/internal/proc"
)

// fakeInvoker records build order and can fail selected directories. A
// small random delay shakes up completion order so ordering tests mean
// something.
type fakeInvoker struct {
	mu     sync.Mutex
	built  []string
	failOn map[string]bool
	jitter bool
}

func (f *fakeInvoker) Build(_ context.Context, dir string, _ []string, _ map[string]string, _ map[string]string) error {
	if f.jitter {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
	}
	name := filepath.Base(dir)
	if f.failOn[name] {
		return fmt.Errorf("build of %s failed", name)
	}
	f.mu.Lock()
	f.built = append(f.built, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeInvoker) Clean(_ context.Context, dir string, _ map[string]string) error {
	name := filepath.Base(dir)
	if f.failOn[name] {
		return fmt.Errorf("clean of %s failed", name)
	}
	f.mu.Lock()
	f.built = append(f.built, "clean:"+name)
	f.mu.Unlock()
	return nil
}

func (f *fakeInvoker) CMake(_ context.Context, srcDir, _ string, _ map[string]string, _ map[string]string) error {
	f.mu.Lock()
	f.built = append(f.built, "cmake:"+filepath.Base(srcDir))
	f.mu.Unlock()
	return nil
}

// fakeRunner records launches and echoes into the redirected stdout.
type fakeRunner struct {
	mu   sync.Mutex
	runs []recordedRun
	fail error
}

type recordedRun struct {
	argv []string
	opts proc.Options
}

func (f *fakeRunner) Run(_ context.Context, argv []string, opts proc.Options) error {
	f.mu.Lock()
	f.runs = append(f.runs, recordedRun{argv: argv, opts: opts})
	f.mu.Unlock()
	if opts.Stdout != nil {
		fmt.Fprintln(opts.Stdout, "runtime output")
	}
	return f.fail
}

// harness builds a processor over temp plugin directories.
type harness struct {
	p       *Processor
	invoker *fakeInvoker
	runner  *fakeRunner
	root    string
}

func newHarness(t *testing.T, model *config.Model) *harness {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"runtime", "common"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	for _, f := range model.Flows {
		for _, group := range f {
			for _, ref := range group {
				require.NoError(t, os.MkdirAll(filepath.Join(root, ref.Path.Local), 0o755))
			}
		}
	}
	for _, ref := range model.Append {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ref.Path.Local), 0o755))
	}
	if model.Runtime.Path.IsZero() {
		model.Runtime = config.ComponentRef{Path: config.LocalSpec("runtime")}
	}
	if model.Common.Path.IsZero() {
		model.Common = config.ComponentRef{Path: config.LocalSpec("common")}
	}
	if model.Profile == "" {
		model.Profile = "opt"
	}

	cache, err := pathcache.New(root, filepath.Join(root, ".cache"), &proc.Runner{Root: root})
	require.NoError(t, err)

	invoker := &fakeInvoker{failOn: map[string]bool{}}
	runner := &fakeRunner{}
	return &harness{
		p: &Processor{
			Model:   model,
			Cache:   cache,
			Invoker: invoker,
			Runner:  runner,
			Workers: 4,
			Root:    root,
		},
		invoker: invoker,
		runner:  runner,
		root:    root,
	}
}

func group(paths ...string) config.PluginGroup {
	var g config.PluginGroup
	for _, p := range paths {
		g = append(g, config.PluginRef{Path: config.LocalSpec(p)})
	}
	return g
}

func TestBuildAllPreservesDeclaredOrder(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{{group("plugins/a", "plugins/b"), group("plugins/c")}},
	}
	h := newHarness(t, model)
	h.invoker.jitter = true

	refs := model.FlowPlugins(model.Flows[0])
	// Parallel builds may complete in any interleaving; the artifact list
	// must still follow declaration order.
	for n := 0; n < 20; n++ {
		artifacts, err := h.p.BuildAll(context.Background(), refs, false)
		require.NoError(t, err)
		var names []string
		for _, a := range artifacts {
			names = append(names, filepath.Base(filepath.Dir(a)))
		}
		require.Equal(t, []string{"a", "b", "c"}, names)
	}
}

func TestBuildPluginLinksCommonTree(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{{group("plugins/a")}},
	}
	h := newHarness(t, model)

	artifact, err := h.p.BuildPlugin(context.Background(), model.Flows[0][0][0], false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.root, "plugins", "a", "plugin.opt.so"), artifact)

	link, err := os.Readlink(filepath.Join(h.root, "plugins", "a", "common"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.root, "common"), link)
}

func TestProcessFlowsFailFastIsolation(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{
			{group("plugins/a", "plugins/b", "plugins/c")},
			{group("plugins/d")},
		},
	}
	h := newHarness(t, model)
	h.invoker.failOn["b"] = true

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{Command: "$cmd", Check: true})
	require.Error(t, err)
	assert.ErrorContains(t, err, "flow 0")
	assert.ErrorContains(t, err, "b")

	// The failing flow never launched, but the separate flow after it ran
	// normally.
	require.Len(t, h.runner.runs, 1)
	argv := h.runner.runs[0].argv
	assert.Equal(t, "./main.opt.exe", argv[0])
	assert.Equal(t, filepath.Join(h.root, "plugins", "d", "plugin.opt.so"), argv[1])
}

func TestProcessFlowsSequentialLaunches(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{
			{group("plugins/a")},
			{group("plugins/b")},
		},
	}
	h := newHarness(t, model)

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{Command: "$cmd", Check: true})
	require.NoError(t, err)
	require.Len(t, h.runner.runs, 2)
	assert.Contains(t, h.runner.runs[0].argv[1], "plugins/a")
	assert.Contains(t, h.runner.runs[1].argv[1], "plugins/b")
}

func TestProcessFlowsProcessFailureIsFatal(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{
			{group("plugins/a")},
			{group("plugins/b")},
		},
	}
	h := newHarness(t, model)
	h.runner.fail = &proc.ExitError{Argv0: "./main.opt.exe", Code: 1}

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{Command: "$cmd", Check: true})
	require.Error(t, err)
	require.Len(t, h.runner.runs, 1, "a checked process failure stops the run immediately")
}

func TestProcessFlowsAppendGroup(t *testing.T) {
	model := &config.Model{
		Flows:  []config.Flow{{group("plugins/a")}},
		Append: group("plugins/z"),
	}
	h := newHarness(t, model)

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{Command: "$cmd"})
	require.NoError(t, err)
	require.Len(t, h.runner.runs, 1)
	argv := h.runner.runs[0].argv
	require.Len(t, argv, 3)
	assert.Contains(t, argv[2], "plugins/z", "append plugins go last")
}

func TestProcessFlowsLogRedirection(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{
			{group("plugins/a")},
			{group("plugins/b")},
		},
	}
	h := newHarness(t, model)
	stem := filepath.Join(h.root, "run.log")

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{Command: "$cmd", LogStem: stem})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		raw, err := os.ReadFile(fmt.Sprintf("%s.%d", stem, i))
		require.NoError(t, err)
		assert.Equal(t, "runtime output\n", string(raw))
	}
}

func TestProcessFlowsCrashWrapper(t *testing.T) {
	model := &config.Model{
		Flows: []config.Flow{{group("plugins/a")}},
	}
	h := newHarness(t, model)

	err := h.p.ProcessFlows(context.Background(), "./main.opt.exe", Options{
		CrashWrapper: []string{"catchsegv", "xvfb-run"},
	})
	require.NoError(t, err)
	require.Len(t, h.runner.runs, 1)
	argv := h.runner.runs[0].argv
	assert.Equal(t, []string{"catchsegv", "xvfb-run", "./main.opt.exe"}, argv[:3])
}

func TestEnvironment(t *testing.T) {
	model := &config.Model{
		Flows:               []config.Flow{{group("plugins/a")}},
		EnableOffload:       true,
		EnableVerboseErrors: true,
		Action:              config.ActionConfig{KimeraPath: "/opt/kimera"},
	}
	h := newHarness(t, model)
	dataDir := filepath.Join(h.root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	model.Data = config.LocalSpec("data")

	env, err := h.p.Environment(context.Background(), Options{
		RunDuration: 30,
		PreSleep:    false,
		ExtraEnv:    map[string]string{"ILLIXR_RUN_DURATION": "99"},
	})
	require.NoError(t, err)

	assert.Equal(t, dataDir, env["ILLIXR_DATA"])
	assert.NotContains(t, env, "ILLIXR_DEMO_DATA")
	assert.Equal(t, "true", env["ILLIXR_OFFLOAD_ENABLE"])
	assert.Equal(t, "false", env["ILLIXR_ALIGNMENT_ENABLE"])
	assert.Equal(t, "true", env["ILLIXR_ENABLE_VERBOSE_ERRORS"])
	assert.Equal(t, "false", env["ILLIXR_ENABLE_PRE_SLEEP"])
	assert.Equal(t, "/opt/kimera", env["KIMERA_ROOT"])
	assert.Equal(t, "99", env["ILLIXR_RUN_DURATION"], "extra env wins")
}

func TestBuildRuntime(t *testing.T) {
	model := &config.Model{Flows: []config.Flow{{group("plugins/a")}}}
	h := newHarness(t, model)

	t.Run("executable", func(t *testing.T) {
		path, err := h.p.BuildRuntime(context.Background(), "exe", false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(h.root, "runtime", "main.opt.exe"), path)
	})

	t.Run("shared object", func(t *testing.T) {
		path, err := h.p.BuildRuntime(context.Background(), "so", true)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(h.root, "runtime", "plugin.opt.so"), path)
	})
}

func TestCleanAll(t *testing.T) {
	model := &config.Model{Flows: []config.Flow{{group("plugins/a", "plugins/b")}}}
	h := newHarness(t, model)

	err := h.p.CleanAll(context.Background(), model.FlowPlugins(model.Flows[0]))
	require.NoError(t, err)
	assert.Len(t, h.invoker.built, 2)
	for _, entry := range h.invoker.built {
		assert.True(t, strings.HasPrefix(entry, "clean:"))
	}
}
