package action

import (
	"context"

	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/flow"
)

// Clean invokes every flow plugin's clean target. Plugins clean in
// parallel; cmake-recipe plugins log a notice instead of failing, since
// cleaning cmake builds is unsupported.
func Clean(ctx context.Context, p *flow.Processor) error {
	logger := ctxlog.FromContext(ctx)
	for i, f := range p.Model.Flows {
		refs := p.Model.FlowPlugins(f)
		logger.Info("Cleaning flow plugins.", "flow", i, "plugins", len(refs))
		if err := p.CleanAll(ctx, refs); err != nil {
			return err
		}
	}
	return nil
}
