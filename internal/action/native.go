package action

import (
	"context"

	"github.com/illixr/runner/internal/flow"
)

// Native builds the runtime executable and processes every flow with the
// configured command template. A non-zero exit of the launched command is
// fatal.
func Native(ctx context.Context, p *flow.Processor) error {
	runtimeExe, err := p.BuildRuntime(ctx, "exe", false)
	if err != nil {
		return err
	}
	return p.ProcessFlows(ctx, runtimeExe, flow.Options{
		RunDuration: p.Model.Action.RunDuration,
		PreSleep:    p.Model.EnablePreSleep,
		Command:     p.Model.Action.Command,
		LogStem:     p.Model.Action.LogStdout,
		Check:       true,
	})
}
