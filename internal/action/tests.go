package action

import (
	"context"
	"fmt"

	"github.com/illixr/runner/internal/flow"
)

// crashWrapper runs the test runtime under a segfault reporter and a
// virtual framebuffer so headless environments can host GL contexts.
var crashWrapper = []string{"catchsegv", "xvfb-run"}

// Tests builds the runtime and plugins with their test targets, exercises
// the common tree's tests, optionally runs the CI matrix first, then
// processes every flow under the crash wrapper.
func Tests(ctx context.Context, p *flow.Processor) error {
	runtimeExe, err := p.BuildRuntime(ctx, "exe", true)
	if err != nil {
		return err
	}
	if err := testCommonTree(ctx, p); err != nil {
		return err
	}
	if p.Model.Action.EnableCI {
		if err := CI(ctx, p); err != nil {
			return err
		}
	}

	// When pre-sleep is enabled the runtime pauses for a debugger; drop
	// catchsegv so gdb can catch the segfaults itself.
	wrapper := crashWrapper
	if p.Model.EnablePreSleep {
		wrapper = crashWrapper[1:]
	}

	return p.ProcessFlows(ctx, runtimeExe, flow.Options{
		TestBuild:    true,
		CrashWrapper: wrapper,
		RunDuration:  p.Model.Action.RunDuration,
		PreSleep:     p.Model.EnablePreSleep,
		Check:        true,
	})
}

// testCommonTree cleans and runs the shared common tree's test target.
func testCommonTree(ctx context.Context, p *flow.Processor) error {
	commonDir, err := p.Cache.Resolve(ctx, p.Model.Common.Path, resolveAll)
	if err != nil {
		return err
	}
	if err := p.Invoker.Clean(ctx, commonDir, nil); err != nil {
		return fmt.Errorf("common tree: %w", err)
	}
	if err := p.Invoker.Build(ctx, commonDir, []string{"tests/run"}, nil, nil); err != nil {
		return fmt.Errorf("common tree: %w", err)
	}
	return nil
}
